// Package index maps bounded signed voxel coordinates onto a dense linear id.
//
// Each axis is shifted by the radius and the three digits are combined as a
// base-(2*radius) number, x fastest and y slowest (x right, y up, z into the
// background). The mapping is a bijection between the cube [-r, r)^3 and
// [0, (2r)^3).
package index

import (
	"fmt"
	"math"
)

// MaxRadius keeps every legal coordinate far away from the int32 extremes,
// which the extent trackers reserve as empty sentinels.
const MaxRadius int32 = 1 << 16

type Pos struct {
	X, Y, Z int32
}

func (p Pos) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z) }

// Get returns the coordinate on the given axis.
func (p Pos) Get(a Axis) int32 {
	switch a {
	case AxisX:
		return p.X
	case AxisY:
		return p.Y
	default:
		return p.Z
	}
}

// With returns p with the coordinate on axis a replaced by v.
func (p Pos) With(a Axis, v int32) Pos {
	switch a {
	case AxisX:
		p.X = v
	case AxisY:
		p.Y = v
	default:
		p.Z = v
	}
	return p
}

type ID int64

// RangeError reports a coordinate or id outside of the indexer's domain.
// Encode and Decode panic with it; Check returns it.
type RangeError struct {
	Radius int32
	Pos    Pos
	ID     ID
	ByID   bool
}

func (e *RangeError) Error() string {
	if e.ByID {
		w := int64(e.Radius) * 2
		return fmt.Sprintf("index: id %d outside [0, %d)", e.ID, w*w*w)
	}
	return fmt.Sprintf("index: position %s outside [-%d, %d)", e.Pos, e.Radius, e.Radius)
}

type Indexer struct {
	radius int32
	width  int64
	plane  int64
	size   int64
}

func New(radius int32) (*Indexer, error) {
	if radius < 1 || radius > MaxRadius {
		return nil, fmt.Errorf("index: radius %d outside [1, %d]", radius, MaxRadius)
	}
	w := int64(radius) * 2
	return &Indexer{
		radius: radius,
		width:  w,
		plane:  w * w,
		size:   w * w * w,
	}, nil
}

// MustNew is New for radii known to be valid at compile time.
func MustNew(radius int32) *Indexer {
	ix, err := New(radius)
	if err != nil {
		panic(err)
	}
	return ix
}

func (ix *Indexer) Radius() int32 { return ix.radius }
func (ix *Indexer) Width() int64  { return ix.width }
func (ix *Indexer) Size() int64   { return ix.size }

func (ix *Indexer) inRange(v int32) bool {
	return v >= -ix.radius && v < ix.radius
}

func (ix *Indexer) Contains(p Pos) bool {
	return ix.inRange(p.X) && ix.inRange(p.Y) && ix.inRange(p.Z)
}

// Check is the non-panicking form of the domain test, for callers that
// validate untrusted input before handing it to Encode.
func (ix *Indexer) Check(p Pos) error {
	if !ix.Contains(p) {
		return &RangeError{Radius: ix.radius, Pos: p}
	}
	return nil
}

func (ix *Indexer) Encode(p Pos) ID {
	if !ix.Contains(p) {
		panic(&RangeError{Radius: ix.radius, Pos: p})
	}
	r := int64(ix.radius)
	return ID((int64(p.X) + r) + (int64(p.Z)+r)*ix.width + (int64(p.Y)+r)*ix.plane)
}

func (ix *Indexer) ValidID(id ID) bool {
	return id >= 0 && int64(id) < ix.size
}

func (ix *Indexer) Decode(id ID) Pos {
	if !ix.ValidID(id) {
		panic(&RangeError{Radius: ix.radius, ID: id, ByID: true})
	}
	v := int64(id)
	r := int64(ix.radius)
	return Pos{
		X: int32(v%ix.width - r),
		Z: int32((v/ix.width)%ix.width - r),
		Y: int32(v/ix.plane - r),
	}
}

// Column returns the key of the column through p that runs along axis a.
// All positions that differ only in their a-coordinate share the key.
func (ix *Indexer) Column(p Pos, a Axis) ID {
	return ix.Encode(p.With(a, -ix.radius))
}

func (ix *Indexer) stride(a Axis) int64 {
	switch a {
	case AxisX:
		return 1
	case AxisZ:
		return ix.width
	default:
		return ix.plane
	}
}

// Step moves id one cell towards d. It reports false when the step would
// leave the domain.
func (ix *Indexer) Step(id ID, d Direction) (ID, bool) {
	if !ix.ValidID(id) {
		return id, false
	}
	s := ix.stride(d.Axis())
	digit := (int64(id) / s) % ix.width
	if d.Positive() {
		if digit == ix.width-1 {
			return id, false
		}
		return ID(int64(id) + s), true
	}
	if digit == 0 {
		return id, false
	}
	return ID(int64(id) - s), true
}

// Clamp limits v to the legal coordinate range.
func (ix *Indexer) Clamp(v float64) int32 {
	lo, hi := float64(-ix.radius), float64(ix.radius-1)
	return int32(math.Max(lo, math.Min(hi, math.Floor(v))))
}
