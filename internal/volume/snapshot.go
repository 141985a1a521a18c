package volume

import (
	"context"
	"errors"
	"fmt"

	"voxelhull.dev/internal/hull/index"
)

// SnapshotState is the complete content of a volume at the end of a flush.
// Voxels are ordered by position id.
type SnapshotState struct {
	VolumeID string
	Radius   int32
	Flush    uint64
	Voxels   []Voxel
}

type snapshotReq struct {
	Resp chan snapshotResp
}

type snapshotResp struct {
	Flush uint64
	Err   string
}

// SetSnapshotSink receives a snapshot every Config.SnapshotEvery flushes and
// on RequestSnapshot. Sends never block the loop.
func (v *Volume) SetSnapshotSink(ch chan<- SnapshotState) { v.snapshotSink = ch }

// Export captures the current content. Call it from the loop goroutine, or
// before Run starts.
func (v *Volume) Export() SnapshotState {
	ids := v.hull.IDs()
	out := SnapshotState{
		VolumeID: v.cfg.ID,
		Radius:   v.cfg.Radius,
		Flush:    v.flush,
		Voxels:   make([]Voxel, 0, len(ids)),
	}
	for _, id := range ids {
		vx, _ := v.hull.Get(v.ix.Decode(id))
		out.Voxels = append(out.Voxels, vx)
	}
	return out
}

// Restore loads a snapshot into an empty volume. The hull changes it causes
// are discarded: subscribers of a restored volume start from a HULL message.
func (v *Volume) Restore(s SnapshotState) error {
	if s.Radius != v.cfg.Radius {
		return fmt.Errorf("snapshot radius %d, volume radius %d", s.Radius, v.cfg.Radius)
	}
	if v.hull.Len() != 0 || v.flush != 0 {
		return errors.New("restore into a used volume")
	}
	for _, vx := range s.Voxels {
		if err := v.ix.Check(vx.Pos); err != nil {
			v.hull.Clear()
			return fmt.Errorf("snapshot voxel: %w", err)
		}
		v.hull.Update(vx.Pos, vx)
	}
	for _, d := range index.Directions {
		v.hull.HullAdditions(d)
		v.hull.HullRemovals(d)
	}
	v.flush = s.Flush
	instrumentOccupied(v.cfg.ID, v.hull.Len())
	return nil
}

// RequestSnapshot asks the loop goroutine to push a snapshot into the sink.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (v *Volume) RequestSnapshot(ctx context.Context) (flush uint64, err error) {
	resp := make(chan snapshotResp, 1)
	select {
	case v.admin <- snapshotReq{Resp: resp}:
	case <-v.done:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Flush, errors.New(r.Err)
		}
		return r.Flush, nil
	case <-v.done:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (v *Volume) maybeSnapshot() {
	if v.cfg.SnapshotEvery == 0 || v.flush%v.cfg.SnapshotEvery != 0 {
		return
	}
	if err := v.pushSnapshot(); err != nil {
		v.log.Printf("periodic snapshot flush=%d: %v", v.flush, err)
	}
}

func (v *Volume) pushSnapshot() error {
	if v.snapshotSink == nil {
		return errors.New("snapshot sink not configured")
	}
	select {
	case v.snapshotSink <- v.Export():
		return nil
	default:
		return errors.New("snapshot sink backpressure")
	}
}

func (v *Volume) handleSnapshotRequests(reqs []snapshotReq) {
	if len(reqs) == 0 {
		return
	}
	resp := snapshotResp{Flush: v.flush}
	if err := v.pushSnapshot(); err != nil {
		resp.Err = err.Error()
	}
	for _, r := range reqs {
		select {
		case r.Resp <- resp:
		default:
			// Caller timed out; never block the loop.
		}
	}
}
