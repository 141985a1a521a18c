package hull

import (
	"sort"

	"voxelhull.dev/internal/hull/extent"
	"voxelhull.dev/internal/hull/index"
)

func (t *Tracker[T]) Get(p index.Pos) (T, bool) {
	obj, ok := t.objs[t.ix.Encode(p)]
	return obj, ok
}

func (t *Tracker[T]) Len() int { return len(t.objs) }

// IDs returns the occupied position ids in ascending order.
func (t *Tracker[T]) IDs() []index.ID {
	ids := make([]index.ID, 0, len(t.objs))
	for id := range t.objs {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Each calls fn for every occupant in ascending id order until fn returns false.
func (t *Tracker[T]) Each(fn func(p index.Pos, obj T) bool) {
	for _, id := range t.IDs() {
		if !fn(t.ix.Decode(id), t.objs[id]) {
			return
		}
	}
}

// Extent returns the tracked min and max of the column through p along a.
// Columns without occupants report the empty sentinels.
func (t *Tracker[T]) Extent(p index.Pos, a index.Axis) (min, max int32) {
	col, ok := t.columns[a][t.ix.Column(p, a)]
	if !ok {
		return extent.EmptyMin, extent.EmptyMax
	}
	return col.Min(), col.Max()
}

// Columns reports how many non-empty columns exist along a.
func (t *Tracker[T]) Columns(a index.Axis) int { return len(t.columns[a]) }

// IsExposed reports whether the occupant at p is currently exposed towards d.
func (t *Tracker[T]) IsExposed(p index.Pos, d index.Direction) bool {
	if !t.Contains(p) {
		return false
	}
	a := d.Axis()
	col := t.columns[a][t.ix.Column(p, a)]
	if d.Positive() {
		return p.Get(a) == col.Max()
	}
	return p.Get(a) == col.Min()
}

// HullIDs returns the ids of all occupants currently exposed towards d, in
// ascending order.
func (t *Tracker[T]) HullIDs(d index.Direction) []index.ID {
	a := d.Axis()
	ids := make([]index.ID, 0, len(t.columns[a]))
	for key, col := range t.columns[a] {
		v := col.Min()
		if d.Positive() {
			v = col.Max()
		}
		ids = append(ids, t.ix.Encode(t.ix.Decode(key).With(a, v)))
	}
	sortIDs(ids)
	return ids
}

// Hull returns the positions currently exposed towards d.
func (t *Tracker[T]) Hull(d index.Direction) []index.Pos {
	ids := t.HullIDs(d)
	out := make([]index.Pos, len(ids))
	for i, id := range ids {
		out[i] = t.ix.Decode(id)
	}
	return out
}

// VisibleIDs returns every occupant exposed in at least one direction.
func (t *Tracker[T]) VisibleIDs() []index.ID {
	seen := map[index.ID]struct{}{}
	for _, d := range index.Directions {
		for _, id := range t.HullIDs(d) {
			seen[id] = struct{}{}
		}
	}
	ids := make([]index.ID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []index.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
