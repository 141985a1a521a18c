package hull

import (
	"math"

	"voxelhull.dev/internal/hull/index"
)

// DefaultRaySteps bounds a raycast when the caller passes no limit.
const DefaultRaySteps = 400

type Hit struct {
	Pos   index.Pos
	ID    index.ID
	Face  index.Direction // face the ray entered through
	Steps int
}

// Raycast walks the grid from origin along dir and returns the first voxel
// whose entered face is exposed. The origin cell itself is not tested.
func (t *Tracker[T]) Raycast(origin, dir [3]float64, maxSteps int) (Hit, bool) {
	if dir == ([3]float64{}) {
		return Hit{}, false
	}
	if maxSteps <= 0 {
		maxSteps = DefaultRaySteps
	}

	var (
		cell   [3]int64
		step   [3]int64
		tMax   [3]float64
		tDelta [3]float64
	)
	for i := 0; i < 3; i++ {
		cell[i] = int64(math.Floor(origin[i]))
		switch {
		case dir[i] > 0:
			step[i] = 1
			tMax[i] = (float64(cell[i]+1) - origin[i]) / dir[i]
			tDelta[i] = 1 / dir[i]
		case dir[i] < 0:
			step[i] = -1
			tMax[i] = (origin[i] - float64(cell[i])) / -dir[i]
			tDelta[i] = -1 / dir[i]
		default:
			tMax[i] = math.Inf(1)
			tDelta[i] = math.Inf(1)
		}
	}

	r := int64(t.ix.Radius())
	inside := func(c [3]int64) bool {
		for _, v := range c {
			if v < -r || v >= r {
				return false
			}
		}
		return true
	}

	for n := 1; n <= maxSteps; n++ {
		i := 0
		if tMax[1] < tMax[i] {
			i = 1
		}
		if tMax[2] < tMax[i] {
			i = 2
		}
		cell[i] += step[i]
		tMax[i] += tDelta[i]

		if !inside(cell) {
			continue
		}
		p := index.Pos{X: int32(cell[0]), Y: int32(cell[1]), Z: int32(cell[2])}
		face := index.Towards(index.Axis(i), step[i] < 0)
		if t.IsExposed(p, face) {
			return Hit{Pos: p, ID: t.ix.Encode(p), Face: face, Steps: n}, true
		}
	}
	return Hit{}, false
}
