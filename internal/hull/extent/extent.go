// Package extent tracks the minimum and maximum of a multiset of int32 values.
//
// A tracker holds one column of a voxel volume: the occupied coordinates along
// one axis for a fixed pair of perpendicular coordinates.
package extent

import (
	"errors"
	"math"

	"github.com/google/btree"
)

// Sentinels returned by an empty tracker. Any real coordinate compares as
// more extreme, so "nothing blocks this side" needs no special case. Callers
// must keep their values strictly inside (EmptyMax, EmptyMin).
const (
	EmptyMin int32 = math.MaxInt32
	EmptyMax int32 = math.MinInt32
)

var ErrNotPresent = errors.New("extent: value not present")

const degree = 8

type Tracker struct {
	counts map[int32]int
	values *btree.BTreeG[int32]
	total  int

	min, max int32
}

func lessInt32(a, b int32) bool { return a < b }

func New() *Tracker {
	return &Tracker{
		counts: map[int32]int{},
		values: btree.NewG[int32](degree, lessInt32),
		min:    EmptyMin,
		max:    EmptyMax,
	}
}

func (t *Tracker) Min() int32 { return t.min }
func (t *Tracker) Max() int32 { return t.max }

// Len is the number of occurrences, duplicates included.
func (t *Tracker) Len() int      { return t.total }
func (t *Tracker) Distinct() int { return len(t.counts) }
func (t *Tracker) Empty() bool   { return t.total == 0 }

func (t *Tracker) Count(v int32) int { return t.counts[v] }

func (t *Tracker) Add(v int32) {
	t.total++
	if n, ok := t.counts[v]; ok {
		t.counts[v] = n + 1
		return
	}
	t.counts[v] = 1
	t.values.ReplaceOrInsert(v)
	if v < t.min {
		t.min = v
	}
	if v > t.max {
		t.max = v
	}
}

// Remove drops one occurrence of v. Removing a value that is not tracked
// returns ErrNotPresent and leaves the tracker untouched.
func (t *Tracker) Remove(v int32) error {
	n, ok := t.counts[v]
	if !ok {
		return ErrNotPresent
	}
	t.total--
	if n > 1 {
		t.counts[v] = n - 1
		return nil
	}
	delete(t.counts, v)
	t.values.Delete(v)
	if v == t.min {
		t.min = EmptyMin
		if m, ok := t.values.Min(); ok {
			t.min = m
		}
	}
	if v == t.max {
		t.max = EmptyMax
		if m, ok := t.values.Max(); ok {
			t.max = m
		}
	}
	return nil
}

func (t *Tracker) Reset() {
	clear(t.counts)
	t.values.Clear(true)
	t.total = 0
	t.min = EmptyMin
	t.max = EmptyMax
}
