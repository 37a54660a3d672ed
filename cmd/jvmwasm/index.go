package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/chazu/jvmwasm/index"
)

// handleIndexCommand processes the `jvmwasm index` subcommand.
func handleIndexCommand(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: index takes exactly one snapshot file")
		os.Exit(2)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	g, err := index.UnmarshalSnapshot(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := printIndex(os.Stdout, g); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printIndex writes the classes, function table and dispatch sites of g.
func printIndex(out io.Writer, g *index.GlobalIndex) error {
	s := g.Snapshot()
	width := 32
	if s.Pointer64 {
		width = 64
	}
	fmt.Fprintf(out, "pointer width %d, static data ends at %d\n\n", width, s.StaticEnd)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCLASS\tSUPER\tSIZE\tSTATIC\tSLOTS")
	for _, c := range s.Classes {
		name := c.Name
		if c.Interface {
			name += " (interface)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d+%d\t%d\n", c.ID, name, c.Super, c.InstanceSize, c.StaticBase, c.StaticSize, len(c.Slots))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(s.Fields) > 0 {
		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "OFFSET\tFIELD")
		for _, f := range s.Fields {
			fmt.Fprintf(w, "%d\t%s\n", f.Offset, f.Field)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(s.Functions) > 0 {
		fmt.Fprintln(out)
		for i, fn := range s.Functions {
			fmt.Fprintf(out, "table[%d] = %s\n", i, fn)
		}
	}

	if len(s.Dispatch) > 0 {
		fmt.Fprintln(out)
		for _, d := range s.Dispatch {
			fmt.Fprintf(out, "%s %s -> id %d\n", d.Binding, d.Site, d.ID)
			for _, t := range d.Targets {
				fmt.Fprintf(out, "    %s\n", t)
			}
		}
	}
	return nil
}
