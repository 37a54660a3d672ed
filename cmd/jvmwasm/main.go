// jvmwasm CLI - inspects the artifacts the compiler backend writes
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chazu/jvmwasm/manifest"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output (debug logging)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jvmwasm [options] <command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  replay [-go] [-o file] <dump>   Re-run structural analysis on a graph dump\n")
		fmt.Fprintf(os.Stderr, "  index <snapshot>                Print a frozen index snapshot\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nConfiguration is read from the nearest %s, if any.\n", manifest.FileName)
	}
	flag.Parse()

	if *verbose {
		commonlog.Configure(2, nil)
	} else {
		commonlog.Configure(1, nil)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "replay":
		handleReplayCommand(args[1:], loadManifest())
	case "index":
		handleIndexCommand(args[1:])
	case "help", "-h", "--help":
		flag.Usage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

// loadManifest finds the project configuration, falling back to defaults.
func loadManifest() *manifest.Manifest {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		return manifest.Default()
	}
	return m
}
