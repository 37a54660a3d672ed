package wasm

// Dispatch caching for resolveInterface and resolveIndirect.
//
// Each resolution site is identified by the resolver kind and the id or
// table offset it resolves. Most sites only ever see one receiver class,
// so the cache starts monomorphic, widens to a small polymorphic cache,
// and gives up once too many classes have been seen.

// CacheState is the current state of a dispatch cache.
type CacheState uint8

const (
	CacheEmpty CacheState = iota
	CacheMonomorphic
	CachePolymorphic
	CacheMegamorphic
)

func (s CacheState) String() string {
	switch s {
	case CacheEmpty:
		return "empty"
	case CacheMonomorphic:
		return "mono"
	case CachePolymorphic:
		return "poly"
	case CacheMegamorphic:
		return "mega"
	}
	return "?"
}

// MaxPICEntries bounds the polymorphic cache.
const MaxPICEntries = 6

type cacheEntry struct {
	classID int32
	target  int32
}

// InlineCache maps receiver class ids to function table indices for one
// resolution site.
type InlineCache struct {
	State   CacheState
	entries [MaxPICEntries]cacheEntry
	count   int

	Hits   uint64
	Misses uint64
}

// Lookup returns the cached table index for classID.
func (ic *InlineCache) Lookup(classID int32) (int32, bool) {
	if ic.State == CacheMonomorphic || ic.State == CachePolymorphic {
		for i := 0; i < ic.count; i++ {
			if ic.entries[i].classID == classID {
				ic.Hits++
				return ic.entries[i].target, true
			}
		}
	}
	ic.Misses++
	return 0, false
}

// Update records a resolved (class, target) pair.
func (ic *InlineCache) Update(classID, target int32) {
	if target < 0 {
		return
	}
	switch ic.State {
	case CacheEmpty:
		ic.State = CacheMonomorphic
		ic.entries[0] = cacheEntry{classID, target}
		ic.count = 1
	case CacheMonomorphic, CachePolymorphic:
		for i := 0; i < ic.count; i++ {
			if ic.entries[i].classID == classID {
				return
			}
		}
		if ic.count < MaxPICEntries {
			ic.entries[ic.count] = cacheEntry{classID, target}
			ic.count++
			ic.State = CachePolymorphic
			return
		}
		ic.State = CacheMegamorphic
		ic.entries = [MaxPICEntries]cacheEntry{}
		ic.count = 0
	}
}

// Len returns the number of cached classes.
func (ic *InlineCache) Len() int { return ic.count }

// Reset empties the cache and clears its counters.
func (ic *InlineCache) Reset() {
	*ic = InlineCache{}
}

type siteKey struct {
	indirect bool
	id       int32
}

// InlineCacheTable holds the caches of every resolution site an engine
// has executed.
type InlineCacheTable struct {
	caches map[siteKey]*InlineCache
}

// NewInlineCacheTable creates an empty table.
func NewInlineCacheTable() *InlineCacheTable {
	return &InlineCacheTable{caches: make(map[siteKey]*InlineCache)}
}

// GetOrCreate returns the cache of a site. indirect selects the
// resolveIndirect sites, id is the interface method id or table offset.
func (t *InlineCacheTable) GetOrCreate(indirect bool, id int32) *InlineCache {
	k := siteKey{indirect, id}
	if ic := t.caches[k]; ic != nil {
		return ic
	}
	ic := &InlineCache{}
	t.caches[k] = ic
	return ic
}

// Get returns the cache of a site, or nil.
func (t *InlineCacheTable) Get(indirect bool, id int32) *InlineCache {
	return t.caches[siteKey{indirect, id}]
}

// Stats counts caches per state and sums their counters.
func (t *InlineCacheTable) Stats() (mono, poly, mega int, hits, misses uint64) {
	for _, ic := range t.caches {
		switch ic.State {
		case CacheMonomorphic:
			mono++
		case CachePolymorphic:
			poly++
		case CacheMegamorphic:
			mega++
		}
		hits += ic.Hits
		misses += ic.Misses
	}
	return
}

// HitRate returns the aggregate hit rate as a percentage.
func (t *InlineCacheTable) HitRate() float64 {
	_, _, _, hits, misses := t.Stats()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) * 100 / float64(hits+misses)
}

// Reset clears every cache.
func (t *InlineCacheTable) Reset() {
	for _, ic := range t.caches {
		ic.Reset()
	}
}
