package index

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("index: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ClassRecord is the frozen layout and dispatch data of one class.
type ClassRecord struct {
	Name         string        `cbor:"1,keyasint"`
	Super        string        `cbor:"2,keyasint,omitempty"`
	ID           int32         `cbor:"3,keyasint"`
	Interface    bool          `cbor:"4,keyasint,omitempty"`
	InstanceSize int           `cbor:"5,keyasint"`
	StaticBase   int           `cbor:"6,keyasint"`
	StaticSize   int           `cbor:"7,keyasint,omitempty"`
	Slots        []Slot        `cbor:"8,keyasint,omitempty"`
	Indirect     []int32       `cbor:"9,keyasint,omitempty"` // function table index per offset, -1 if unset
	Itable       []ItableEntry `cbor:"10,keyasint,omitempty"`
}

// ItableEntry maps an interface method id to a function table index.
type ItableEntry struct {
	ID    int32 `cbor:"1,keyasint"`
	Index int32 `cbor:"2,keyasint"`
}

// DispatchRecord describes one unresolved call site.
type DispatchRecord struct {
	Binding Binding     `cbor:"1,keyasint"`
	Site    MethodSig   `cbor:"2,keyasint"`
	ID      int32       `cbor:"3,keyasint"`
	Targets []MethodSig `cbor:"4,keyasint,omitempty"`
}

// FieldRecord is a field and its offset.
type FieldRecord struct {
	Field  FieldSig `cbor:"1,keyasint"`
	Offset int      `cbor:"2,keyasint"`
}

// Snapshot is the serializable form of a GlobalIndex.
type Snapshot struct {
	Pointer64 bool             `cbor:"1,keyasint,omitempty"`
	StaticEnd int              `cbor:"2,keyasint"`
	Classes   []ClassRecord    `cbor:"3,keyasint"`
	Fields    []FieldRecord    `cbor:"4,keyasint,omitempty"`
	Functions []MethodSig      `cbor:"5,keyasint,omitempty"`
	Dispatch  []DispatchRecord `cbor:"6,keyasint,omitempty"`
}

// Snapshot captures the index in a deterministic order.
func (g *GlobalIndex) Snapshot() *Snapshot {
	s := &Snapshot{
		Pointer64: g.pointer64,
		StaticEnd: g.staticEnd,
		Functions: g.FunctionTable(),
	}
	for _, c := range g.classes {
		s.Classes = append(s.Classes, *c)
	}
	for f, off := range g.fields {
		s.Fields = append(s.Fields, FieldRecord{Field: f, Offset: off})
	}
	sortFieldRecords(s.Fields)
	for _, d := range g.dispatch {
		s.Dispatch = append(s.Dispatch, *d)
	}
	sortDispatchRecords(s.Dispatch)
	return s
}

// FromSnapshot rebuilds a read-only index from a snapshot.
func FromSnapshot(s *Snapshot) (*GlobalIndex, error) {
	g := newGlobalIndex(s.Pointer64)
	g.staticEnd = s.StaticEnd
	for i := range s.Classes {
		c := s.Classes[i]
		if c.ID != int32(i+1) {
			return nil, fmt.Errorf("index: snapshot class %s has id %d at position %d", c.Name, c.ID, i)
		}
		rec := &c
		g.classes = append(g.classes, rec)
		g.byName[c.Name] = rec
		table := make(map[int32]int32, len(c.Itable))
		for _, e := range c.Itable {
			table[e.ID] = e.Index
		}
		g.itables[c.ID] = table
	}
	for _, f := range s.Fields {
		g.fields[f.Field] = f.Offset
	}
	for i, m := range s.Functions {
		g.functions = append(g.functions, m)
		g.funcIndex[m] = int32(i)
	}
	for i := range s.Dispatch {
		d := s.Dispatch[i]
		g.dispatch[siteKey{d.Binding, d.Site}] = &d
	}
	return g, nil
}

// MarshalSnapshot encodes the index as canonical CBOR.
func MarshalSnapshot(g *GlobalIndex) ([]byte, error) {
	return cborEncMode.Marshal(g.Snapshot())
}

// UnmarshalSnapshot decodes an index written by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*GlobalIndex, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("index: unmarshal snapshot: %w", err)
	}
	return FromSnapshot(&s)
}

func sortFieldRecords(fields []FieldRecord) {
	sort.Slice(fields, func(i, j int) bool {
		return fields[i].Field.String() < fields[j].Field.String()
	})
}

func sortDispatchRecords(recs []DispatchRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Binding != recs[j].Binding {
			return recs[i].Binding < recs[j].Binding
		}
		return recs[i].Site.String() < recs[j].Site.String()
	})
}
