// Package gen produces deterministic terrain for seeding a fresh volume.
package gen

import (
	"voxelhull.dev/internal/protocol"
)

type Params struct {
	Seed       int64
	HalfExtent int32 // columns cover [-HalfExtent, HalfExtent) on x and z
	BaseHeight int32
	Amplitude  int32
	RegionSize int
}

// Palette colours, one per biome plus the subsoil.
const (
	ColorPlains uint32 = 0x6aa84f
	ColorForest uint32 = 0x38761d
	ColorDesert uint32 = 0xe6d690
	ColorSoil   uint32 = 0x7f6000
)

func BiomeColor(seed int64, x, z, regionSize int) uint32 {
	if regionSize <= 0 {
		regionSize = 1
	}
	switch hash2(seed, floorDiv(x, regionSize), floorDiv(z, regionSize)) % 3 {
	case 0:
		return ColorPlains
	case 1:
		return ColorForest
	default:
		return ColorDesert
	}
}

// corner returns a lattice height offset in [-amp, amp].
func corner(seed int64, gx, gz int, amp int32) int32 {
	if amp <= 0 {
		return 0
	}
	span := uint64(2*amp + 1)
	return int32(hash2(seed, gx, gz)%span) - amp
}

// HeightAt bilinearly interpolates lattice heights spaced RegionSize apart.
func (p Params) HeightAt(x, z int) int32 {
	rs := p.RegionSize
	if rs <= 0 {
		rs = 1
	}
	gx, gz := floorDiv(x, rs), floorDiv(z, rs)
	fx, fz := int64(mod(x, rs)), int64(mod(z, rs))
	h00 := int64(corner(p.Seed, gx, gz, p.Amplitude))
	h10 := int64(corner(p.Seed, gx+1, gz, p.Amplitude))
	h01 := int64(corner(p.Seed, gx, gz+1, p.Amplitude))
	h11 := int64(corner(p.Seed, gx+1, gz+1, p.Amplitude))
	r := int64(rs)
	top := h00*(r-fx) + h10*fx
	bot := h01*(r-fx) + h11*fx
	v := top*(r-fz) + bot*fz
	// v is scaled by r*r; round towards negative infinity.
	d := r * r
	q := v / d
	if v%d < 0 {
		q--
	}
	return p.BaseHeight + int32(q)
}

// Terrain returns SET ops filling every column from the lowest possible
// height up to its surface. The top voxel of each column takes the biome
// colour, everything below is soil.
func Terrain(p Params) []protocol.EditOp {
	if p.HalfExtent <= 0 {
		return nil
	}
	floor := p.BaseHeight - p.Amplitude
	var ops []protocol.EditOp
	for z := -p.HalfExtent; z < p.HalfExtent; z++ {
		for x := -p.HalfExtent; x < p.HalfExtent; x++ {
			h := p.HeightAt(int(x), int(z))
			top := BiomeColor(p.Seed, int(x), int(z), p.RegionSize)
			for y := floor; y <= h; y++ {
				c := ColorSoil
				if y == h {
					c = top
				}
				ops = append(ops, protocol.EditOp{Op: protocol.OpSet, Pos: [3]int32{x, y, z}, Color: c})
			}
		}
	}
	return ops
}
