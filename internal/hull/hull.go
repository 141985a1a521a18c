// Package hull keeps track of which voxels are exposed towards each of the
// six axis directions and reports the changes incrementally.
//
// A voxel is exposed towards +a when no other voxel in its column along axis
// a lies at a higher coordinate, and towards -a when none lies lower. Every
// mutation touches at most three columns, and in each of them only the old
// and the new extreme can change state.
//
// Trackers are not safe for concurrent use. One owner serialises Update and
// ClearPosition; readers must be excluded while it mutates.
package hull

import (
	"fmt"
	"sort"

	"voxelhull.dev/internal/hull/extent"
	"voxelhull.dev/internal/hull/index"
)

// Finder is the hull capability consumed by volume owners.
type Finder[T comparable] interface {
	Clear()
	Contains(p index.Pos) bool
	Update(p index.Pos, obj T)
	ClearPosition(p index.Pos) bool
	HullAdditions(d index.Direction) []T
	HullRemovals(d index.Direction) []T
}

var _ Finder[int] = (*Tracker[int])(nil)

type slot[T comparable] struct {
	id  index.ID
	obj T
}

type delta[T comparable] struct {
	added   map[slot[T]]struct{}
	removed map[slot[T]]struct{}
}

type Tracker[T comparable] struct {
	ix   *index.Indexer
	objs map[index.ID]T

	// One grid per axis; a column answers both directions of its axis.
	columns [3]map[index.ID]*extent.Tracker

	pending [index.DirectionCount]delta[T]
}

func New[T comparable](ix *index.Indexer) *Tracker[T] {
	t := &Tracker[T]{
		ix:   ix,
		objs: map[index.ID]T{},
	}
	for a := range t.columns {
		t.columns[a] = map[index.ID]*extent.Tracker{}
	}
	for d := range t.pending {
		t.pending[d] = delta[T]{
			added:   map[slot[T]]struct{}{},
			removed: map[slot[T]]struct{}{},
		}
	}
	return t
}

func (t *Tracker[T]) Indexer() *index.Indexer { return t.ix }

func (t *Tracker[T]) Clear() {
	clear(t.objs)
	for a := range t.columns {
		clear(t.columns[a])
	}
	for d := range t.pending {
		clear(t.pending[d].added)
		clear(t.pending[d].removed)
	}
}

func (t *Tracker[T]) Contains(p index.Pos) bool {
	_, ok := t.objs[t.ix.Encode(p)]
	return ok
}

func (t *Tracker[T]) ContainsID(id index.ID) bool {
	_, ok := t.objs[id]
	return ok
}

// Update stores obj at p. If p is already occupied only the stored object is
// replaced: the position does not move, so no exposure changes and no new
// deltas are recorded. Moving a voxel takes ClearPosition followed by Update.
func (t *Tracker[T]) Update(p index.Pos, obj T) {
	id := t.ix.Encode(p)
	if old, ok := t.objs[id]; ok {
		t.objs[id] = obj
		if old != obj {
			t.substitute(id, old, obj)
		}
		return
	}
	t.objs[id] = obj

	for _, a := range index.Axes {
		key := t.ix.Column(p, a)
		col, ok := t.columns[a][key]
		if !ok {
			col = extent.New()
			t.columns[a][key] = col
		}
		v := p.Get(a)
		oldMin, oldMax := col.Min(), col.Max()
		col.Add(v)

		if v > oldMax {
			up := index.Towards(a, true)
			t.expose(up, id, obj)
			if oldMax != extent.EmptyMax {
				t.hideAt(up, p.With(a, oldMax))
			}
		}
		if v < oldMin {
			down := index.Towards(a, false)
			t.expose(down, id, obj)
			if oldMin != extent.EmptyMin {
				t.hideAt(down, p.With(a, oldMin))
			}
		}
	}
}

// ClearPosition removes the occupant at p. It reports false when p was empty.
func (t *Tracker[T]) ClearPosition(p index.Pos) bool {
	id := t.ix.Encode(p)
	obj, ok := t.objs[id]
	if !ok {
		return false
	}
	delete(t.objs, id)

	for _, a := range index.Axes {
		key := t.ix.Column(p, a)
		col := t.columns[a][key]
		if col == nil {
			panic(fmt.Sprintf("hull: no %s column for occupied position %s", a, p))
		}
		v := p.Get(a)
		oldMin, oldMax := col.Min(), col.Max()
		if err := col.Remove(v); err != nil {
			panic(fmt.Sprintf("hull: %s column out of sync at %s: %v", a, p, err))
		}

		if v == oldMax {
			up := index.Towards(a, true)
			t.hide(up, id, obj)
			if m := col.Max(); m != extent.EmptyMax {
				t.exposeAt(up, p.With(a, m))
			}
		}
		if v == oldMin {
			down := index.Towards(a, false)
			t.hide(down, id, obj)
			if m := col.Min(); m != extent.EmptyMin {
				t.exposeAt(down, p.With(a, m))
			}
		}
		if col.Empty() {
			delete(t.columns[a], key)
		}
	}
	return true
}

// HullAdditions returns the objects that became exposed towards d since the
// additions for d were last read, ordered by position id. Reading drains only
// the additions of d; removals and other directions are left alone. An
// exposure that was undone within the same window is not reported.
func (t *Tracker[T]) HullAdditions(d index.Direction) []T {
	return drain(t.pending[d].added)
}

// HullRemovals is the counterpart of HullAdditions for objects that stopped
// being exposed towards d. A removal carries the object stored at the moment
// the voxel was hidden.
func (t *Tracker[T]) HullRemovals(d index.Direction) []T {
	return drain(t.pending[d].removed)
}

// PendingCounts reports how many additions and removals are waiting for d.
func (t *Tracker[T]) PendingCounts(d index.Direction) (added, removed int) {
	return len(t.pending[d].added), len(t.pending[d].removed)
}

func drain[T comparable](m map[slot[T]]struct{}) []T {
	if len(m) == 0 {
		return nil
	}
	slots := make([]slot[T], 0, len(m))
	for s := range m {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].id < slots[j].id })
	out := make([]T, len(slots))
	for i, s := range slots {
		out[i] = s.obj
	}
	clear(m)
	return out
}

func (t *Tracker[T]) expose(d index.Direction, id index.ID, obj T) {
	s := slot[T]{id: id, obj: obj}
	pd := t.pending[d]
	if _, ok := pd.removed[s]; ok {
		delete(pd.removed, s)
		return
	}
	pd.added[s] = struct{}{}
}

func (t *Tracker[T]) hide(d index.Direction, id index.ID, obj T) {
	s := slot[T]{id: id, obj: obj}
	pd := t.pending[d]
	if _, ok := pd.added[s]; ok {
		delete(pd.added, s)
		return
	}
	pd.removed[s] = struct{}{}
}

func (t *Tracker[T]) exposeAt(d index.Direction, p index.Pos) {
	id := t.ix.Encode(p)
	obj, ok := t.objs[id]
	if !ok {
		panic(fmt.Sprintf("hull: column extreme %s is not occupied", p))
	}
	t.expose(d, id, obj)
}

func (t *Tracker[T]) hideAt(d index.Direction, p index.Pos) {
	id := t.ix.Encode(p)
	obj, ok := t.objs[id]
	if !ok {
		panic(fmt.Sprintf("hull: column extreme %s is not occupied", p))
	}
	t.hide(d, id, obj)
}

// substitute points unread additions at the new object. Unread removals keep
// the old one since that is the handle the consumer was told about.
func (t *Tracker[T]) substitute(id index.ID, old, obj T) {
	from := slot[T]{id: id, obj: old}
	for _, d := range index.Directions {
		if _, ok := t.pending[d].added[from]; ok {
			delete(t.pending[d].added, from)
			t.expose(d, id, obj)
		}
	}
}
