package hull

import (
	"testing"

	"voxelhull.dev/internal/hull/index"
)

func TestRaycastHitsFirstExposedFace(t *testing.T) {
	h := newTestTracker[int](t, 16)
	h.Update(index.Pos{X: 0, Y: 0, Z: 5}, 1)
	h.Update(index.Pos{X: 0, Y: 0, Z: 6}, 2)

	hit, ok := h.Raycast([3]float64{0.5, 0.5, 0.5}, [3]float64{0, 0, 1}, 0)
	if !ok {
		t.Fatalf("expected a hit")
	}
	if hit.Pos != (index.Pos{X: 0, Y: 0, Z: 5}) || hit.Face != index.NegZ || hit.Steps != 5 {
		t.Fatalf("unexpected hit: %+v", hit)
	}
}

func TestRaycastFromBelow(t *testing.T) {
	h := newTestTracker[int](t, 16)
	h.Update(index.Pos{X: 2, Y: 3, Z: -1}, 1)
	hit, ok := h.Raycast([3]float64{2.25, -4.5, -0.75}, [3]float64{0, 1, 0}, 20)
	if !ok || hit.Pos != (index.Pos{X: 2, Y: 3, Z: -1}) || hit.Face != index.NegY {
		t.Fatalf("unexpected hit: %+v ok=%v", hit, ok)
	}
}

func TestRaycastMisses(t *testing.T) {
	h := newTestTracker[int](t, 16)
	h.Update(index.Pos{X: 3, Y: 3, Z: 3}, 1)
	if _, ok := h.Raycast([3]float64{0.5, 0.5, 0.5}, [3]float64{0, 0, 1}, 40); ok {
		t.Fatalf("unexpected hit")
	}
	if _, ok := h.Raycast([3]float64{0.5, 0.5, 0.5}, [3]float64{}, 40); ok {
		t.Fatalf("zero direction must not hit")
	}
	if _, ok := h.Raycast([3]float64{0.5, 0.5, 0.5}, [3]float64{1, 1, 1}, 2); ok {
		t.Fatalf("step limit ignored")
	}
}
