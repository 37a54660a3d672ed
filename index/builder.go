package index

import (
	"fmt"
	"sort"
)

// Options configures index building.
type Options struct {
	// Pointer64 makes references 8 bytes wide instead of 4.
	Pointer64 bool

	// StaticStart is the address of the first static data block.
	StaticStart int
}

type methodDecl struct {
	sig      MethodSig
	abstract bool
}

type dynamicDecl struct {
	site    MethodSig
	targets []MethodSig
}

// Builder collects classes, fields and methods and computes the tables of a
// GlobalIndex in Freeze. A Builder must not be used after Freeze.
type Builder struct {
	opts Options

	classes     []ClassSig
	classByName map[string]int

	fields    []FieldSig
	fieldSeen map[FieldSig]bool

	methods    []methodDecl
	methodSeen map[MethodSig]bool

	dynamic []dynamicDecl
	frozen  bool
}

// NewBuilder creates an empty builder.
func NewBuilder(opts Options) *Builder {
	return &Builder{
		opts:        opts,
		classByName: make(map[string]int),
		fieldSeen:   make(map[FieldSig]bool),
		methodSeen:  make(map[MethodSig]bool),
	}
}

// AddClass registers a class or interface. Class ids follow registration
// order, starting at 1.
func (b *Builder) AddClass(c ClassSig) error {
	if b.frozen {
		return fmt.Errorf("index: builder already frozen")
	}
	if c.Name == "" {
		return fmt.Errorf("index: class without name")
	}
	if _, ok := b.classByName[c.Name]; ok {
		return fmt.Errorf("index: duplicate class %s", c.Name)
	}
	b.classByName[c.Name] = len(b.classes)
	b.classes = append(b.classes, c)
	return nil
}

// AddField registers a field of a previously added class.
func (b *Builder) AddField(f FieldSig) error {
	if b.frozen {
		return fmt.Errorf("index: builder already frozen")
	}
	if _, err := ParseFieldDescriptor(f.Descriptor); err != nil {
		return fmt.Errorf("index: field %s: %w", f, err)
	}
	if b.fieldSeen[f] {
		return fmt.Errorf("index: duplicate field %s", f)
	}
	b.fieldSeen[f] = true
	b.fields = append(b.fields, f)
	return nil
}

// AddMethod registers a method. Abstract methods get a vtable slot but no
// function table entry.
func (b *Builder) AddMethod(m MethodSig, abstract bool) error {
	if b.frozen {
		return fmt.Errorf("index: builder already frozen")
	}
	if _, _, err := ParseMethodDescriptor(m.Descriptor); err != nil {
		return fmt.Errorf("index: method %s: %w", m, err)
	}
	if b.methodSeen[m] {
		return fmt.Errorf("index: duplicate method %s", m)
	}
	b.methodSeen[m] = true
	b.methods = append(b.methods, methodDecl{sig: m, abstract: abstract})
	return nil
}

// AddDynamicSite registers a late-bound call site together with the concrete
// methods it may reach. Each target is installed in the indirect table of
// its own class at the offset allocated for the site.
func (b *Builder) AddDynamicSite(site MethodSig, targets ...MethodSig) error {
	if b.frozen {
		return fmt.Errorf("index: builder already frozen")
	}
	for _, d := range b.dynamic {
		if d.site == site {
			return fmt.Errorf("index: duplicate dynamic site %s", site)
		}
	}
	ts := make([]MethodSig, len(targets))
	copy(ts, targets)
	b.dynamic = append(b.dynamic, dynamicDecl{site: site, targets: ts})
	return nil
}

// Freeze computes all tables and returns the read-only index.
func (b *Builder) Freeze() (*GlobalIndex, error) {
	if b.frozen {
		return nil, fmt.Errorf("index: builder already frozen")
	}
	b.frozen = true

	order, err := b.topoOrder()
	if err != nil {
		return nil, err
	}

	g := newGlobalIndex(b.opts.Pointer64)
	for i, c := range b.classes {
		rec := &ClassRecord{
			Name:      c.Name,
			Super:     c.Super,
			ID:        int32(i + 1),
			Interface: c.Interface,
		}
		g.classes = append(g.classes, rec)
		g.byName[c.Name] = rec
	}

	for _, m := range b.methods {
		if _, ok := g.byName[m.sig.Class]; !ok {
			return nil, fmt.Errorf("index: method %s: %w", m.sig, &UnknownSignatureError{What: "class", Sig: m.sig.Class})
		}
		if m.abstract {
			continue
		}
		g.funcIndex[m.sig] = int32(len(g.functions))
		g.functions = append(g.functions, m.sig)
	}

	if err := b.layoutFields(g, order); err != nil {
		return nil, err
	}
	vtables := b.buildVTables(g, order)
	b.buildInterfaceTables(g, order, vtables)
	if err := b.buildIndirectTables(g, vtables); err != nil {
		return nil, err
	}

	log.Debugf("frozen index: %d classes, %d fields, %d functions, %d call sites",
		len(g.classes), len(g.fields), len(g.functions), len(g.dispatch))
	return g, nil
}

// topoOrder returns class indices with every superclass and superinterface
// before its subtypes.
func (b *Builder) topoOrder() ([]int, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(b.classes))
	var order []int
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("index: cyclic class hierarchy at %s", b.classes[i].Name)
		}
		state[i] = visiting
		c := b.classes[i]
		parents := c.Interfaces
		if c.Super != "" {
			parents = append([]string{c.Super}, parents...)
		}
		for _, p := range parents {
			j, ok := b.classByName[p]
			if !ok {
				return fmt.Errorf("index: %s extends undefined %s", c.Name, p)
			}
			if err := visit(j); err != nil {
				return err
			}
		}
		state[i] = done
		order = append(order, i)
		return nil
	}
	for i := range b.classes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// sortBySize orders fields largest first, then by name, which keeps the
// layout deterministic and padding small.
func sortBySize(fields []FieldSig, pointer64 bool) {
	sort.SliceStable(fields, func(i, j int) bool {
		si, sj := fields[i].Kind().Size(pointer64), fields[j].Kind().Size(pointer64)
		if si != sj {
			return si > sj
		}
		return fields[i].Name < fields[j].Name
	})
}

func (b *Builder) layoutFields(g *GlobalIndex, order []int) error {
	instance := make(map[string][]FieldSig)
	static := make(map[string][]FieldSig)
	for _, f := range b.fields {
		c, ok := g.byName[f.Class]
		if !ok {
			return fmt.Errorf("index: field %s: %w", f, &UnknownSignatureError{What: "class", Sig: f.Class})
		}
		if f.Static {
			static[f.Class] = append(static[f.Class], f)
		} else {
			if c.Interface {
				return fmt.Errorf("index: interface %s cannot have instance field %s", c.Name, f.Name)
			}
			instance[f.Class] = append(instance[f.Class], f)
		}
	}

	wordSize := 4
	if b.opts.Pointer64 {
		wordSize = 8
	}

	for _, i := range order {
		c := g.classes[i]
		size := ObjectHeader
		if c.Super != "" {
			size = g.byName[c.Super].InstanceSize
		}
		own := instance[c.Name]
		sortBySize(own, b.opts.Pointer64)
		for _, f := range own {
			n := f.Kind().Size(b.opts.Pointer64)
			size = alignUp(size, n)
			g.fields[f] = size
			size += n
		}
		c.InstanceSize = alignUp(size, wordSize)
	}

	cursor := b.opts.StaticStart
	for _, c := range g.classes {
		cursor = alignUp(cursor, 8)
		c.StaticBase = cursor
		own := static[c.Name]
		sortBySize(own, b.opts.Pointer64)
		size := 0
		for _, f := range own {
			n := f.Kind().Size(b.opts.Pointer64)
			size = alignUp(size, n)
			g.fields[f] = size
			size += n
		}
		c.StaticSize = size
		cursor += size
	}
	g.staticEnd = alignUp(cursor, 8)
	return nil
}

func (b *Builder) buildVTables(g *GlobalIndex, order []int) map[string]*VTable {
	own := make(map[string][]methodDecl)
	for _, m := range b.methods {
		if isVirtual(m.sig) {
			own[m.sig.Class] = append(own[m.sig.Class], m)
		}
	}

	vtables := make(map[string]*VTable)
	for _, i := range order {
		c := g.classes[i]
		if c.Interface {
			continue
		}
		var parent *VTable
		if c.Super != "" {
			parent = vtables[c.Super]
		}
		vt := NewVTable(parent)
		for _, m := range own[c.Name] {
			vt.AddMethod(m.sig, m.abstract)
		}
		// default methods fill slots the class hierarchy leaves empty
		for _, iface := range b.allInterfaces(c.Name) {
			for _, m := range own[iface] {
				if m.abstract {
					continue
				}
				if slot := vt.Lookup(m.sig); slot < 0 || vt.slots[slot].Abstract {
					vt.AddMethod(m.sig, false)
				}
			}
		}
		vtables[c.Name] = vt
		c.Slots = vt.Slots()
	}
	return vtables
}

// allInterfaces returns every interface a class implements, directly or via
// its superclasses and superinterfaces, in a stable order.
func (b *Builder) allInterfaces(name string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(n string)
	walk = func(n string) {
		i, ok := b.classByName[n]
		if !ok {
			return
		}
		c := b.classes[i]
		for _, iface := range c.Interfaces {
			if !seen[iface] {
				seen[iface] = true
				out = append(out, iface)
			}
			walk(iface)
		}
		if c.Super != "" {
			walk(c.Super)
		}
	}
	walk(name)
	return out
}

func (b *Builder) buildInterfaceTables(g *GlobalIndex, order []int, vtables map[string]*VTable) {
	ifaceMethods := make(map[string][]MethodSig)
	nextID := int32(0)
	for _, c := range g.classes {
		if !c.Interface {
			continue
		}
		for _, m := range b.methods {
			if m.sig.Class != c.Name || !isVirtual(m.sig) {
				continue
			}
			g.dispatch[siteKey{Interface, m.sig}] = &DispatchRecord{Binding: Interface, Site: m.sig, ID: nextID}
			ifaceMethods[c.Name] = append(ifaceMethods[c.Name], m.sig)
			nextID++
		}
	}

	for _, i := range order {
		c := g.classes[i]
		if c.Interface {
			continue
		}
		vt := vtables[c.Name]
		table := make(map[int32]int32)
		for _, iface := range b.allInterfaces(c.Name) {
			for _, m := range ifaceMethods[iface] {
				rec := g.dispatch[siteKey{Interface, m}]
				slot := vt.Lookup(m)
				if slot < 0 || vt.slots[slot].Abstract {
					continue
				}
				impl := vt.slots[slot].Impl
				table[rec.ID] = g.funcIndex[impl]
				rec.Targets = append(rec.Targets, impl)
			}
		}
		g.itables[c.ID] = table
		c.Itable = itableEntries(table)
	}
	for k, rec := range g.dispatch {
		if k.binding == Interface {
			rec.Targets = sortMethods(rec.Targets)
		}
	}
}

func itableEntries(table map[int32]int32) []ItableEntry {
	out := make([]ItableEntry, 0, len(table))
	for id, idx := range table {
		out = append(out, ItableEntry{ID: id, Index: idx})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Builder) buildIndirectTables(g *GlobalIndex, vtables map[string]*VTable) error {
	maxSlots := 0
	for _, vt := range vtables {
		if vt.Len() > maxSlots {
			maxSlots = vt.Len()
		}
	}
	size := maxSlots + len(b.dynamic)

	for _, c := range g.classes {
		if c.Interface {
			continue
		}
		c.Indirect = make([]int32, size)
		for i := range c.Indirect {
			c.Indirect[i] = -1
		}
		for slot, s := range c.Slots {
			if !s.Abstract {
				c.Indirect[slot] = g.funcIndex[s.Impl]
			}
		}
	}

	// virtual resolution sets: every implementation of a slot seen by the
	// declaring class or any of its subclasses
	for _, c := range g.classes {
		if c.Interface {
			continue
		}
		for slot, s := range c.Slots {
			for anc := c; anc != nil; anc = g.byName[anc.Super] {
				if slot >= len(anc.Slots) {
					break
				}
				key := siteKey{Virtual, MethodSig{Class: anc.Name, Name: s.Decl.Name, Descriptor: s.Decl.Descriptor}}
				rec := g.dispatch[key]
				if rec == nil {
					rec = &DispatchRecord{Binding: Virtual, Site: key.sig, ID: int32(slot)}
					g.dispatch[key] = rec
				}
				if !s.Abstract {
					rec.Targets = append(rec.Targets, s.Impl)
				}
			}
		}
	}

	for k, d := range b.dynamic {
		offset := int32(maxSlots + k)
		rec := &DispatchRecord{Binding: Dynamic, Site: d.site, ID: offset}
		for _, t := range d.targets {
			idx, ok := g.funcIndex[t]
			if !ok {
				return fmt.Errorf("index: dynamic site %s: %w", d.site, &UnknownSignatureError{What: "method", Sig: t.String()})
			}
			c := g.byName[t.Class]
			if c.Interface {
				return fmt.Errorf("index: dynamic site %s targets interface %s", d.site, c.Name)
			}
			c.Indirect[offset] = idx
			rec.Targets = append(rec.Targets, t)
		}
		g.dispatch[siteKey{Dynamic, d.site}] = rec
	}

	for k, rec := range g.dispatch {
		if k.binding != Interface {
			rec.Targets = sortMethods(rec.Targets)
		}
	}
	return nil
}
