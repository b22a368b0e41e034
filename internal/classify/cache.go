package classify

import "sync"

// cacheEntry is what the classifier remembers between calls: the signature
// it last computed a decision from, the evidence-type set backing that
// signature (for the jaccard tolerance check), and the decision itself.
type cacheEntry struct {
	signature string
	types     map[string]struct{}
	result    Result
}

// cache is the in-memory, per-process evidence-signature cache (§4.10): a
// performance hint that lets Classify skip recomputing the decision rule
// when nothing about a device's evidence has materially changed since the
// last pass. It is never consulted as a source of evidence — a miss always
// falls through to a fresh decide() over the store's current evidence.
type cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newCache() *cache {
	return &cache{entries: make(map[string]cacheEntry)}
}

// lookup returns the cached result for mac if sig matches exactly, or if the
// jaccard similarity between the cached type set and types is at least 80%
// (the "within 80% tolerance" clause). A miss returns ok=false.
func (c *cache) lookup(mac, sig string, types map[string]struct{}) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[mac]
	if !ok {
		return Result{}, false
	}
	if e.signature == sig {
		return e.result, true
	}
	if jaccard(e.types, types) >= 0.8 {
		return e.result, true
	}
	return Result{}, false
}

func (c *cache) store(mac, sig string, types map[string]struct{}, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[mac] = cacheEntry{signature: sig, types: types, result: result}
}

// jaccard is |a ∩ b| / |a ∪ b| over two evidence-type sets. Two empty sets
// are defined as similarity 1 (no evidence either time counts as unchanged).
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}
