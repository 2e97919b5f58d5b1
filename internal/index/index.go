// Package index maintains the secondary lookup structures over memory
// entries: content tokens, category, tags, memory type, and ordered
// temporal and importance indexes. All structures are derived state and
// can be rebuilt from the entry set at any time.
package index

import (
	"sort"
	"sync"

	"github.com/kyratales/charmem/internal/model"
)

type idSet map[string]struct{}

func intersect(a, b idSet) idSet {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(idSet)
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// setIndex maps a key (token, tag, category, type) to the set of entry
// ids carrying it. It holds its own lock, so mutations on different
// index structures never contend.
type setIndex struct {
	mu sync.RWMutex
	m  map[string]idSet
}

func newSetIndex() *setIndex {
	return &setIndex{m: make(map[string]idSet)}
}

func (x *setIndex) add(key, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	s, ok := x.m[key]
	if !ok {
		s = make(idSet)
		x.m[key] = s
	}
	s[id] = struct{}{}
}

func (x *setIndex) remove(key, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if s, ok := x.m[key]; ok {
		delete(s, id)
		if len(s) == 0 {
			delete(x.m, key)
		}
	}
}

// union returns the combined id set of all given keys.
func (x *setIndex) union(keys []string) idSet {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(idSet)
	for _, k := range keys {
		for id := range x.m[k] {
			out[id] = struct{}{}
		}
	}
	return out
}

func (x *setIndex) contains(key, id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.m[key][id]
	return ok
}

func (x *setIndex) reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.m = make(map[string]idSet)
}

type orderedSlot struct {
	v  float64
	id string
}

// orderedIndex keeps (value, id) slots sorted descending by value.
// Removal and updates leave stale slots behind; a slot is live only when
// cur[id] still equals its value. Stale slots are swept by compact.
type orderedIndex struct {
	mu    sync.RWMutex
	slots []orderedSlot
	cur   map[string]float64
}

func newOrderedIndex() *orderedIndex {
	return &orderedIndex{cur: make(map[string]float64)}
}

func (o *orderedIndex) add(v float64, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cur[id] = v
	i := sort.Search(len(o.slots), func(i int) bool { return o.slots[i].v < v })
	o.slots = append(o.slots, orderedSlot{})
	copy(o.slots[i+1:], o.slots[i:])
	o.slots[i] = orderedSlot{v: v, id: id}
}

func (o *orderedIndex) remove(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cur, id)
}

// top returns up to n live ids in descending value order.
func (o *orderedIndex) top(n int) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, n)
	seen := make(idSet, n)
	for _, s := range o.slots {
		if v, ok := o.cur[s.id]; !ok || v != s.v {
			continue
		}
		if _, dup := seen[s.id]; dup {
			continue
		}
		seen[s.id] = struct{}{}
		out = append(out, s.id)
		if len(out) == n {
			break
		}
	}
	return out
}

// filterTop returns up to n ids from want in descending value order.
func (o *orderedIndex) filterTop(want idSet, n int) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, n)
	seen := make(idSet, n)
	for _, s := range o.slots {
		if _, ok := want[s.id]; !ok {
			continue
		}
		if v, ok := o.cur[s.id]; !ok || v != s.v {
			continue
		}
		if _, dup := seen[s.id]; dup {
			continue
		}
		seen[s.id] = struct{}{}
		out = append(out, s.id)
		if len(out) == n {
			break
		}
	}
	return out
}

// atLeast returns the set of live ids with value >= min.
func (o *orderedIndex) atLeast(min float64) idSet {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(idSet)
	for _, s := range o.slots {
		if s.v < min {
			break
		}
		if v, ok := o.cur[s.id]; ok && v == s.v {
			out[s.id] = struct{}{}
		}
	}
	return out
}

// between returns live ids with value in [lo, hi], descending.
func (o *orderedIndex) between(lo, hi float64) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []string
	for _, s := range o.slots {
		if s.v > hi {
			continue
		}
		if s.v < lo {
			break
		}
		if v, ok := o.cur[s.id]; ok && v == s.v {
			out = append(out, s.id)
		}
	}
	return out
}

func (o *orderedIndex) fragmentation() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.slots) == 0 {
		return 0
	}
	return float64(len(o.slots)-len(o.cur)) / float64(len(o.slots))
}

func (o *orderedIndex) compact() {
	o.mu.Lock()
	defer o.mu.Unlock()
	live := o.slots[:0]
	seen := make(idSet, len(o.cur))
	for _, s := range o.slots {
		if v, ok := o.cur[s.id]; !ok || v != s.v {
			continue
		}
		if _, dup := seen[s.id]; dup {
			continue
		}
		seen[s.id] = struct{}{}
		live = append(live, s)
	}
	o.slots = live
}

func (o *orderedIndex) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.slots = nil
	o.cur = make(map[string]float64)
}

// Index is the full secondary-index subsystem over memory entries.
type Index struct {
	content    *setIndex
	category   *setIndex
	tag        *setIndex
	types      *setIndex
	temporal   *orderedIndex
	importance *orderedIndex
}

// New returns an empty index subsystem.
func New() *Index {
	return &Index{
		content:    newSetIndex(),
		category:   newSetIndex(),
		tag:        newSetIndex(),
		types:      newSetIndex(),
		temporal:   newOrderedIndex(),
		importance: newOrderedIndex(),
	}
}

// Add mirrors an entry into every applicable index.
func (ix *Index) Add(e *model.Entry) {
	for token := range TokenSet(e.Content.Projection()) {
		ix.content.add(token, e.ID)
	}
	if e.Category != "" {
		ix.category.add(e.Category, e.ID)
	}
	for _, t := range e.Tags {
		ix.tag.add(t, e.ID)
	}
	ix.types.add(string(e.Type), e.ID)
	ix.temporal.add(float64(e.Timestamp.UnixNano()), e.ID)
	ix.importance.add(e.Importance, e.ID)
}

// Remove deletes an entry from every index it was mirrored into.
func (ix *Index) Remove(e *model.Entry) {
	for token := range TokenSet(e.Content.Projection()) {
		ix.content.remove(token, e.ID)
	}
	if e.Category != "" {
		ix.category.remove(e.Category, e.ID)
	}
	for _, t := range e.Tags {
		ix.tag.remove(t, e.ID)
	}
	ix.types.remove(string(e.Type), e.ID)
	ix.temporal.remove(e.ID)
	ix.importance.remove(e.ID)
}

// UpdateImportance re-keys the importance index after a revision, e.g.
// duplicate reinforcement.
func (ix *Index) UpdateImportance(id string, importance float64) {
	ix.importance.remove(id)
	ix.importance.add(importance, id)
}

// Rebuild replaces all index contents with those derived from entries.
func (ix *Index) Rebuild(entries []*model.Entry) {
	ix.content.reset()
	ix.category.reset()
	ix.tag.reset()
	ix.types.reset()
	ix.temporal.reset()
	ix.importance.reset()
	for _, e := range entries {
		ix.Add(e)
	}
}

// Query selects index candidates. Filters intersect; query-text tokens
// shortlist candidates when any of them match, otherwise the filters
// alone drive selection and the text contributes only to ranking.
type Query struct {
	Text          string
	Types         []model.MemoryType
	Categories    []string
	Tags          []string
	MinImportance float64
	Limit         int
}

// Search returns up to Limit candidate ids. A query with no narrowing
// text or filters falls back to the most recent entries.
func (ix *Index) Search(q Query) []string {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	var candidates idSet
	seeded := false
	narrow := func(s idSet) {
		if !seeded {
			candidates = s
			seeded = true
			return
		}
		candidates = intersect(candidates, s)
	}

	if q.Text != "" {
		if tokens := Tokens(q.Text); len(tokens) > 0 {
			if matched := ix.content.union(tokens); len(matched) > 0 {
				narrow(matched)
			}
		}
	}
	if len(q.Types) > 0 {
		keys := make([]string, len(q.Types))
		for i, t := range q.Types {
			keys[i] = string(t)
		}
		narrow(ix.types.union(keys))
	}
	if len(q.Categories) > 0 {
		narrow(ix.category.union(q.Categories))
	}
	if len(q.Tags) > 0 {
		narrow(ix.tag.union(q.Tags))
	}
	if q.MinImportance > 0 {
		narrow(ix.importance.atLeast(q.MinImportance))
	}

	if !seeded {
		return ix.temporal.top(limit)
	}

	if len(candidates) <= limit {
		out := make([]string, 0, len(candidates))
		for id := range candidates {
			out = append(out, id)
		}
		return out
	}
	// Cut oversized candidate sets by importance so which ids survive
	// the limit does not depend on map iteration order.
	return ix.importance.filterTop(candidates, limit)
}

// Recent returns the n most recently created entry ids.
func (ix *Index) Recent(n int) []string {
	return ix.temporal.top(n)
}

// InRange returns ids created within [since, until], newest first.
func (ix *Index) InRange(since, until int64) []string {
	return ix.temporal.between(float64(since), float64(until))
}

// TopImportance returns the n most important entry ids.
func (ix *Index) TopImportance(n int) []string {
	return ix.importance.top(n)
}

// Contains reports whether the entry is reachable from the indexes that
// apply to it. Used by consistency checks.
func (ix *Index) Contains(e *model.Entry) bool {
	if !ix.types.contains(string(e.Type), e.ID) {
		return false
	}
	if e.Category != "" && !ix.category.contains(e.Category, e.ID) {
		return false
	}
	for _, t := range e.Tags {
		if !ix.tag.contains(t, e.ID) {
			return false
		}
	}
	for token := range TokenSet(e.Content.Projection()) {
		if !ix.content.contains(token, e.ID) {
			return false
		}
	}
	return true
}

// Fragmentation reports the stale-slot ratio of the ordered indexes.
func (ix *Index) Fragmentation() float64 {
	t := ix.temporal.fragmentation()
	if i := ix.importance.fragmentation(); i > t {
		return i
	}
	return t
}

// Compact sweeps stale slots from the ordered indexes.
func (ix *Index) Compact() {
	ix.temporal.compact()
	ix.importance.compact()
}
