package hull

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"voxelhull.dev/internal/hull/extent"
	"voxelhull.dev/internal/hull/index"
)

func newTestTracker[T comparable](t *testing.T, radius int32) *Tracker[T] {
	t.Helper()
	ix, err := index.New(radius)
	if err != nil {
		t.Fatalf("index.New: %v", err)
	}
	return New[T](ix)
}

func drainAll[T comparable](h *Tracker[T]) {
	for _, d := range index.Directions {
		h.HullAdditions(d)
		h.HullRemovals(d)
	}
}

func expectSet[T comparable](t *testing.T, what string, got []T, want ...T) {
	t.Helper()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("%s: got %v want %v", what, got, want)
	}
}

func TestLocalityOfHullUpdates(t *testing.T) {
	h := newTestTracker[string](t, 8)
	h.Update(index.Pos{X: 0, Y: 0, Z: 0}, "a")
	h.Update(index.Pos{X: 4, Y: 2, Z: -3}, "far")
	drainAll(h)

	h.Update(index.Pos{X: 0, Y: 1, Z: 0}, "b")

	expectSet(t, "+y additions", h.HullAdditions(index.PosY), "b")
	expectSet(t, "+y removals", h.HullRemovals(index.PosY), "a")
	expectSet(t, "-y additions", h.HullAdditions(index.NegY))
	expectSet(t, "-y removals", h.HullRemovals(index.NegY))
	for _, d := range []index.Direction{index.PosX, index.NegX, index.PosZ, index.NegZ} {
		expectSet(t, d.String()+" additions", h.HullAdditions(d), "b")
		expectSet(t, d.String()+" removals", h.HullRemovals(d))
	}

	for _, d := range index.Directions {
		if !h.IsExposed(index.Pos{X: 4, Y: 2, Z: -3}, d) {
			t.Fatalf("unrelated voxel lost exposure towards %s", d)
		}
	}
	if h.IsExposed(index.Pos{}, index.PosY) {
		t.Fatalf("covered voxel still exposed towards +y")
	}
	if !h.IsExposed(index.Pos{}, index.NegY) {
		t.Fatalf("bottom voxel should stay exposed towards -y")
	}
}

func TestNewColumnExposesBothSides(t *testing.T) {
	h := newTestTracker[int](t, 4)
	h.Update(index.Pos{X: 1, Y: 1, Z: 1}, 7)
	for _, d := range index.Directions {
		expectSet(t, d.String(), h.HullAdditions(d), 7)
		expectSet(t, d.String()+" removals", h.HullRemovals(d))
	}
}

func TestSubstitutionLeavesDeltasEmpty(t *testing.T) {
	h := newTestTracker[string](t, 8)
	p := index.Pos{X: 2, Y: -1, Z: 3}
	h.Update(p, "first")
	drainAll(h)

	h.Update(p, "second")
	if !h.Contains(p) {
		t.Fatalf("position lost after substitution")
	}
	if got, _ := h.Get(p); got != "second" {
		t.Fatalf("stored object: got %q", got)
	}
	if h.Len() != 1 {
		t.Fatalf("substitution changed occupancy count: %d", h.Len())
	}
	for _, d := range index.Directions {
		expectSet(t, d.String()+" additions", h.HullAdditions(d))
		expectSet(t, d.String()+" removals", h.HullRemovals(d))
		if !h.IsExposed(p, d) {
			t.Fatalf("substitution changed exposure towards %s", d)
		}
	}
}

func TestSubstitutionRewritesUnreadAdditions(t *testing.T) {
	h := newTestTracker[string](t, 8)
	p := index.Pos{X: 0, Y: 0, Z: 0}
	h.Update(p, "first")
	h.Update(p, "second")
	for _, d := range index.Directions {
		expectSet(t, d.String(), h.HullAdditions(d), "second")
	}
}

func TestRemovalAfterSubstitutionReportsStoredObject(t *testing.T) {
	h := newTestTracker[string](t, 8)
	p := index.Pos{X: 0, Y: 0, Z: 0}
	h.Update(p, "first")
	drainAll(h)
	h.Update(p, "second")
	h.ClearPosition(p)
	expectSet(t, "+x removals", h.HullRemovals(index.PosX), "second")
}

func TestClearPositionOnEmpty(t *testing.T) {
	h := newTestTracker[int](t, 4)
	if h.ClearPosition(index.Pos{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("expected false for an empty position")
	}
	h.Update(index.Pos{X: 1, Y: 2, Z: 3}, 1)
	if !h.ClearPosition(index.Pos{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("expected true for an occupied position")
	}
	if h.ClearPosition(index.Pos{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("expected false for a second clear")
	}
}

func TestRemovalExposesNextInColumn(t *testing.T) {
	h := newTestTracker[string](t, 8)
	h.Update(index.Pos{X: 0, Y: 0, Z: 0}, "low")
	h.Update(index.Pos{X: 0, Y: 3, Z: 0}, "mid")
	h.Update(index.Pos{X: 0, Y: 6, Z: 0}, "top")
	drainAll(h)

	h.ClearPosition(index.Pos{X: 0, Y: 6, Z: 0})
	expectSet(t, "+y removals", h.HullRemovals(index.PosY), "top")
	expectSet(t, "+y additions", h.HullAdditions(index.PosY), "mid")
	expectSet(t, "-y removals", h.HullRemovals(index.NegY))
	expectSet(t, "-y additions", h.HullAdditions(index.NegY))

	h.ClearPosition(index.Pos{X: 0, Y: 0, Z: 0})
	expectSet(t, "-y removals", h.HullRemovals(index.NegY), "low")
	expectSet(t, "-y additions", h.HullAdditions(index.NegY), "mid")

	min, max := h.Extent(index.Pos{X: 0, Y: 0, Z: 0}, index.AxisY)
	if min != 3 || max != 3 {
		t.Fatalf("column extent: got %d/%d", min, max)
	}
}

func TestDrainIsPerDirectionAndIdempotent(t *testing.T) {
	h := newTestTracker[int](t, 4)
	h.Update(index.Pos{X: 0, Y: 0, Z: 0}, 1)

	expectSet(t, "+x first read", h.HullAdditions(index.PosX), 1)
	expectSet(t, "+x second read", h.HullAdditions(index.PosX))

	if added, _ := h.PendingCounts(index.NegX); added != 1 {
		t.Fatalf("reading +x drained -x: pending=%d", added)
	}

	h.ClearPosition(index.Pos{X: 0, Y: 0, Z: 0})
	// +x was read, so its removal is reported; -x was not, so it folds away.
	expectSet(t, "+x removals", h.HullRemovals(index.PosX), 1)
	expectSet(t, "-x additions", h.HullAdditions(index.NegX))
	expectSet(t, "-x removals", h.HullRemovals(index.NegX))
	expectSet(t, "+x removals again", h.HullRemovals(index.PosX))
}

func TestAddThenClearWithinWindowFoldsAway(t *testing.T) {
	h := newTestTracker[int](t, 4)
	h.Update(index.Pos{X: 0, Y: 0, Z: 0}, 1)
	drainAll(h)

	h.Update(index.Pos{X: 0, Y: 1, Z: 0}, 2)
	h.ClearPosition(index.Pos{X: 0, Y: 1, Z: 0})
	for _, d := range index.Directions {
		expectSet(t, d.String()+" additions", h.HullAdditions(d))
		expectSet(t, d.String()+" removals", h.HullRemovals(d))
	}
}

func TestClearingEverythingRestoresFreshState(t *testing.T) {
	h := newTestTracker[int](t, 6)
	r := rand.New(rand.NewSource(3))
	var placed []index.Pos
	for i := 0; i < 200; i++ {
		p := index.Pos{X: int32(r.Intn(12) - 6), Y: int32(r.Intn(12) - 6), Z: int32(r.Intn(12) - 6)}
		if h.Contains(p) {
			continue
		}
		h.Update(p, i)
		placed = append(placed, p)
	}
	for _, p := range placed {
		if !h.ClearPosition(p) {
			t.Fatalf("clear %s failed", p)
		}
	}
	if h.Len() != 0 {
		t.Fatalf("occupants left: %d", h.Len())
	}
	for _, a := range index.Axes {
		if h.Columns(a) != 0 {
			t.Fatalf("%s columns leaked: %d", a, h.Columns(a))
		}
	}
	for _, p := range placed {
		if h.Contains(p) {
			t.Fatalf("%s still occupied", p)
		}
		for _, a := range index.Axes {
			min, max := h.Extent(p, a)
			if min != extent.EmptyMin || max != extent.EmptyMax {
				t.Fatalf("%s column through %s not back to sentinels", a, p)
			}
		}
	}
	for _, d := range index.Directions {
		expectSet(t, d.String()+" additions", h.HullAdditions(d))
		expectSet(t, d.String()+" removals", h.HullRemovals(d))
		if len(h.HullIDs(d)) != 0 {
			t.Fatalf("hull towards %s not empty", d)
		}
	}
}

func TestClearDropsEverything(t *testing.T) {
	h := newTestTracker[int](t, 4)
	h.Update(index.Pos{X: 1, Y: 1, Z: 1}, 1)
	h.Update(index.Pos{X: 1, Y: 2, Z: 1}, 2)
	h.Clear()
	if h.Len() != 0 || h.Contains(index.Pos{X: 1, Y: 1, Z: 1}) {
		t.Fatalf("clear left occupants")
	}
	for _, d := range index.Directions {
		expectSet(t, d.String(), h.HullAdditions(d))
	}
	h.Update(index.Pos{X: 1, Y: 1, Z: 1}, 3)
	expectSet(t, "+y after clear", h.HullAdditions(index.PosY), 3)
}

func TestOutOfRangePanics(t *testing.T) {
	h := newTestTracker[int](t, 4)
	defer func() {
		if _, ok := recover().(*index.RangeError); !ok {
			t.Fatalf("expected *index.RangeError panic")
		}
	}()
	h.Update(index.Pos{X: 4, Y: 0, Z: 0}, 1)
}

// bruteExposed recomputes exposure by scanning whole columns.
func bruteExposed(occ map[index.Pos]int, d index.Direction) map[index.Pos]int {
	a := d.Axis()
	out := map[index.Pos]int{}
	for p, obj := range occ {
		exposed := true
		for q := range occ {
			if q == p || q.With(a, 0) != p.With(a, 0) {
				continue
			}
			if d.Positive() && q.Get(a) > p.Get(a) || !d.Positive() && q.Get(a) < p.Get(a) {
				exposed = false
				break
			}
		}
		if exposed {
			out[p] = obj
		}
	}
	return out
}

func TestIncrementalDeltasMatchBruteForce(t *testing.T) {
	const radius = 4
	h := newTestTracker[int](t, radius)
	r := rand.New(rand.NewSource(11))
	occ := map[index.Pos]int{}
	var views [index.DirectionCount]map[int]struct{}
	for d := range views {
		views[d] = map[int]struct{}{}
	}
	next := 0

	for round := 0; round < 60; round++ {
		for i := 0; i < 1+r.Intn(12); i++ {
			p := index.Pos{X: int32(r.Intn(2*radius) - radius), Y: int32(r.Intn(2*radius) - radius), Z: int32(r.Intn(2*radius) - radius)}
			if _, ok := occ[p]; ok {
				delete(occ, p)
				h.ClearPosition(p)
				continue
			}
			next++
			occ[p] = next
			h.Update(p, next)
		}

		for _, d := range index.Directions {
			view := views[d]
			for _, obj := range h.HullRemovals(d) {
				if _, ok := view[obj]; !ok {
					t.Fatalf("round %d %s: removal of %d that was never added", round, d, obj)
				}
				delete(view, obj)
			}
			for _, obj := range h.HullAdditions(d) {
				if _, ok := view[obj]; ok {
					t.Fatalf("round %d %s: duplicate addition of %d", round, d, obj)
				}
				view[obj] = struct{}{}
			}

			want := bruteExposed(occ, d)
			var wantObjs, gotObjs []int
			for _, obj := range want {
				wantObjs = append(wantObjs, obj)
			}
			for obj := range view {
				gotObjs = append(gotObjs, obj)
			}
			sort.Ints(wantObjs)
			sort.Ints(gotObjs)
			if !reflect.DeepEqual(wantObjs, gotObjs) {
				t.Fatalf("round %d %s: consumer view %v, brute force %v", round, d, gotObjs, wantObjs)
			}
			if len(h.HullIDs(d)) != len(want) {
				t.Fatalf("round %d %s: hull ids %d, brute force %d", round, d, len(h.HullIDs(d)), len(want))
			}
			for p := range want {
				if !h.IsExposed(p, d) {
					t.Fatalf("round %d: %s should be exposed towards %s", round, p, d)
				}
			}
		}
	}
}

func TestHullQueries(t *testing.T) {
	h := newTestTracker[string](t, 8)
	h.Update(index.Pos{X: 0, Y: 0, Z: 0}, "a")
	h.Update(index.Pos{X: 0, Y: 1, Z: 0}, "b")
	h.Update(index.Pos{X: 0, Y: 2, Z: 0}, "c")

	up := h.Hull(index.PosY)
	if len(up) != 1 || up[0] != (index.Pos{X: 0, Y: 2, Z: 0}) {
		t.Fatalf("+y hull: %v", up)
	}
	down := h.Hull(index.NegY)
	if len(down) != 1 || down[0] != (index.Pos{}) {
		t.Fatalf("-y hull: %v", down)
	}
	if got := len(h.Hull(index.PosX)); got != 3 {
		t.Fatalf("+x hull size: %d", got)
	}
	if got := len(h.VisibleIDs()); got != 3 {
		t.Fatalf("visible ids: %d", got)
	}
	ids := h.IDs()
	if len(ids) != 3 || !sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }) {
		t.Fatalf("ids not sorted: %v", ids)
	}

	var seen []string
	h.Each(func(_ index.Pos, obj string) bool {
		seen = append(seen, obj)
		return true
	})
	if !reflect.DeepEqual(seen, []string{"a", "b", "c"}) {
		t.Fatalf("each order: %v", seen)
	}
}
