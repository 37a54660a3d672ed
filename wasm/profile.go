package wasm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Profile counts function invocations and object allocations seen by one
// engine. Counters are atomic so a profile can be read while the engine
// runs on another goroutine.
type Profile struct {
	calls  sync.Map // function name -> *uint64
	allocs sync.Map // class id -> *uint64

	// HotThreshold is the call count at which a function counts as hot.
	HotThreshold uint64

	// OnHot is called once per function when it becomes hot.
	OnHot func(name string, count uint64)

	instructions uint64
}

// NewProfile creates a profile with the default hot threshold.
func NewProfile() *Profile {
	return &Profile{HotThreshold: 100}
}

func counter(m *sync.Map, key any) *uint64 {
	if v, ok := m.Load(key); ok {
		return v.(*uint64)
	}
	v, _ := m.LoadOrStore(key, new(uint64))
	return v.(*uint64)
}

// RecordCall counts one invocation of name and reports whether it made the
// function hot.
func (p *Profile) RecordCall(name string) bool {
	n := atomic.AddUint64(counter(&p.calls, name), 1)
	if p.HotThreshold == 0 || n != p.HotThreshold {
		return false
	}
	if p.OnHot != nil {
		p.OnHot(name, n)
	}
	return true
}

// RecordAlloc counts one allocation of an instance of classID.
func (p *Profile) RecordAlloc(classID int32) {
	atomic.AddUint64(counter(&p.allocs, classID), 1)
}

func (p *Profile) recordInstruction() uint64 {
	return atomic.AddUint64(&p.instructions, 1)
}

// Calls returns how often name has been invoked.
func (p *Profile) Calls(name string) uint64 {
	if v, ok := p.calls.Load(name); ok {
		return atomic.LoadUint64(v.(*uint64))
	}
	return 0
}

// Allocations returns how many instances of classID were allocated.
func (p *Profile) Allocations(classID int32) uint64 {
	if v, ok := p.allocs.Load(classID); ok {
		return atomic.LoadUint64(v.(*uint64))
	}
	return 0
}

// Instructions returns the number of instructions executed.
func (p *Profile) Instructions() uint64 {
	return atomic.LoadUint64(&p.instructions)
}

// HotFunctions returns the functions called at least HotThreshold times,
// most called first.
func (p *Profile) HotFunctions() []string {
	type hot struct {
		name string
		n    uint64
	}
	var list []hot
	p.calls.Range(func(k, v any) bool {
		n := atomic.LoadUint64(v.(*uint64))
		if p.HotThreshold > 0 && n >= p.HotThreshold {
			list = append(list, hot{k.(string), n})
		}
		return true
	})
	sort.Slice(list, func(i, j int) bool {
		if list[i].n != list[j].n {
			return list[i].n > list[j].n
		}
		return list[i].name < list[j].name
	})
	names := make([]string, len(list))
	for i, h := range list {
		names[i] = h.name
	}
	return names
}

// ProfileStats summarizes a profile.
type ProfileStats struct {
	Functions    int
	Calls        uint64
	Classes      int
	Allocations  uint64
	Instructions uint64
}

// Stats returns aggregate counts.
func (p *Profile) Stats() ProfileStats {
	s := ProfileStats{Instructions: p.Instructions()}
	p.calls.Range(func(_, v any) bool {
		s.Functions++
		s.Calls += atomic.LoadUint64(v.(*uint64))
		return true
	})
	p.allocs.Range(func(_, v any) bool {
		s.Classes++
		s.Allocations += atomic.LoadUint64(v.(*uint64))
		return true
	})
	return s
}

// Reset clears all counters.
func (p *Profile) Reset() {
	p.calls.Range(func(k, _ any) bool {
		p.calls.Delete(k)
		return true
	})
	p.allocs.Range(func(k, _ any) bool {
		p.allocs.Delete(k)
		return true
	})
	atomic.StoreUint64(&p.instructions, 0)
}
