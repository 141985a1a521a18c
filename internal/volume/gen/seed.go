package gen

import (
	"fmt"

	"voxelhull.dev/internal/protocol"
	"voxelhull.dev/internal/volume"
)

// SeedSession tags seeded edits in the journal.
const SeedSession = "seed"

// Seed applies Terrain(p) to v in batches of at most MaxBatch ops and returns
// the number of voxels set.
func Seed(v *volume.Volume, p Params) (int, error) {
	ops := Terrain(p)
	batch := v.Config().MaxBatch
	var seq uint64
	for start := 0; start < len(ops); start += batch {
		end := start + batch
		if end > len(ops) {
			end = len(ops)
		}
		seq++
		msg := protocol.EditMsg{
			Type:            protocol.TypeEdit,
			ProtocolVersion: protocol.Version,
			Seq:             seq,
			Ops:             ops[start:end],
		}
		if _, err := v.Apply(SeedSession, msg); err != nil {
			return start, fmt.Errorf("seed batch %d: %w", seq, err)
		}
	}
	return len(ops), nil
}
