package wasm

import "testing"

func TestProfileHotFunctions(t *testing.T) {
	p := NewProfile()
	p.HotThreshold = 3

	var hot []string
	p.OnHot = func(name string, _ uint64) { hot = append(hot, name) }

	for i := 0; i < 5; i++ {
		p.RecordCall("a")
	}
	for i := 0; i < 3; i++ {
		p.RecordCall("b")
	}
	p.RecordCall("c")
	p.RecordAlloc(7)
	p.RecordAlloc(7)

	if len(hot) != 2 || hot[0] != "a" || hot[1] != "b" {
		t.Errorf("OnHot calls: got %v, want [a b]", hot)
	}
	got := p.HotFunctions()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("HotFunctions: got %v, want [a b]", got)
	}
	s := p.Stats()
	if s.Functions != 3 || s.Calls != 9 || s.Classes != 1 || s.Allocations != 2 {
		t.Errorf("stats: got %+v", s)
	}

	p.Reset()
	if p.Calls("a") != 0 || p.Allocations(7) != 0 {
		t.Error("reset left counters behind")
	}
}
