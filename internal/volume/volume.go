// Package volume owns a sparse voxel volume and its hull tracker. It is the
// single writer the hull tracker expects: edits are applied in arrival order
// and hull deltas are drained once per flush.
package volume

import (
	"errors"
	"fmt"
	"io"
	"log"

	"voxelhull.dev/internal/hull"
	"voxelhull.dev/internal/hull/index"
	"voxelhull.dev/internal/protocol"
)

// Voxel is the occupant stored in the hull tracker.
type Voxel struct {
	Pos   index.Pos
	Color uint32
}

func (v Voxel) Ref() protocol.VoxelRef {
	return protocol.VoxelRef{Pos: [3]int32{v.Pos.X, v.Pos.Y, v.Pos.Z}, Color: v.Color}
}

type Config struct {
	ID          string
	Radius      int32
	FlushRateHz int
	MaxBatch    int

	// SnapshotEvery pushes a snapshot to the sink every that many flushes;
	// 0 disables periodic snapshots.
	SnapshotEvery uint64
}

// EditLogEntry is one applied EDIT batch, as written to the journal.
type EditLogEntry struct {
	Flush   uint64            `json:"flush"`
	Session string            `json:"session,omitempty"`
	Seq     uint64            `json:"seq"`
	Ops     []protocol.EditOp `json:"ops"`
}

type FlushSummary struct {
	Flush    uint64
	Added    [index.DirectionCount]int
	Removed  [index.DirectionCount]int
	Occupied int
}

type Journal interface {
	WriteEdit(EditLogEntry) error
}

type Index interface {
	RecordEdit(EditLogEntry, Result)
	RecordFlush(FlushSummary)
}

// Result counts what an EDIT batch did.
type Result struct {
	Seq           uint64
	Sets          int
	Substitutions int
	Clears        int
	NoopClears    int
}

// EditError rejects a whole batch. Op is the offending op, or -1 when the
// batch itself is at fault.
type EditError struct {
	Code string
	Op   int
	Err  error
}

func (e *EditError) Error() string {
	if e.Op < 0 {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: op %d: %v", e.Code, e.Op, e.Err)
}

func (e *EditError) Unwrap() error { return e.Err }

type Volume struct {
	cfg  Config
	ix   *index.Indexer
	hull *hull.Tracker[Voxel]

	flush uint64

	journal      Journal
	index        Index
	snapshotSink chan<- SnapshotState
	log          *log.Logger

	inbox chan EditEnvelope
	join  chan JoinRequest
	leave chan string
	admin chan snapshotReq
	stop  chan struct{}
	done  chan struct{}

	subs map[string]*subscriber
}

func New(cfg Config) (*Volume, error) {
	ix, err := index.New(cfg.Radius)
	if err != nil {
		return nil, fmt.Errorf("volume %s: %w", cfg.ID, err)
	}
	if cfg.FlushRateHz <= 0 {
		return nil, fmt.Errorf("volume %s: flush rate must be positive", cfg.ID)
	}
	if cfg.MaxBatch <= 0 {
		return nil, fmt.Errorf("volume %s: max batch must be positive", cfg.ID)
	}
	return &Volume{
		cfg:   cfg,
		ix:    ix,
		hull:  hull.New[Voxel](ix),
		log:   log.New(io.Discard, "", 0),
		inbox: make(chan EditEnvelope, 1024),
		join:  make(chan JoinRequest, 64),
		leave: make(chan string, 64),
		admin: make(chan snapshotReq, 8),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		subs:  map[string]*subscriber{},
	}, nil
}

func (v *Volume) SetJournal(j Journal)       { v.journal = j }
func (v *Volume) SetIndex(i Index)           { v.index = i }
func (v *Volume) SetLogger(l *log.Logger)    { v.log = l }
func (v *Volume) ID() string                 { return v.cfg.ID }
func (v *Volume) Config() Config             { return v.cfg }
func (v *Volume) Indexer() *index.Indexer    { return v.ix }
func (v *Volume) Hull() *hull.Tracker[Voxel] { return v.hull }
func (v *Volume) CurrentFlush() uint64       { return v.flush }

func (v *Volume) Params() protocol.VolumeParams {
	return protocol.VolumeParams{
		Radius:      v.cfg.Radius,
		FlushRateHz: v.cfg.FlushRateHz,
		MaxBatch:    v.cfg.MaxBatch,
	}
}

func (v *Volume) check(msg protocol.EditMsg) error {
	if len(msg.Ops) > v.cfg.MaxBatch {
		return &EditError{
			Code: protocol.ErrBatchTooLarge,
			Op:   -1,
			Err:  fmt.Errorf("%d ops exceed max batch %d", len(msg.Ops), v.cfg.MaxBatch),
		}
	}
	for i, op := range msg.Ops {
		switch op.Op {
		case protocol.OpSet, protocol.OpClear:
		default:
			return &EditError{Code: protocol.ErrUnknownOp, Op: i, Err: fmt.Errorf("unknown op %q", op.Op)}
		}
		if err := v.ix.Check(posOf(op)); err != nil {
			return &EditError{Code: protocol.ErrOutOfRange, Op: i, Err: err}
		}
	}
	return nil
}

func posOf(op protocol.EditOp) index.Pos {
	return index.Pos{X: op.Pos[0], Y: op.Pos[1], Z: op.Pos[2]}
}

// Apply validates and applies one EDIT batch. A batch is rejected as a whole
// before anything is touched, so the hull tracker never sees an
// out-of-range coordinate.
func (v *Volume) Apply(session string, msg protocol.EditMsg) (Result, error) {
	res := Result{Seq: msg.Seq}
	if err := v.check(msg); err != nil {
		var ee *EditError
		if errors.As(err, &ee) {
			instrumentRejected(ee.Code)
		}
		return res, err
	}

	for _, op := range msg.Ops {
		p := posOf(op)
		switch op.Op {
		case protocol.OpSet:
			if v.hull.Contains(p) {
				res.Substitutions++
			} else {
				res.Sets++
			}
			v.hull.Update(p, Voxel{Pos: p, Color: op.Color})
		case protocol.OpClear:
			if v.hull.ClearPosition(p) {
				res.Clears++
			} else {
				res.NoopClears++
			}
		}
	}
	instrumentApplied(v.cfg.ID, res, v.hull.Len())

	entry := EditLogEntry{Flush: v.flush + 1, Session: session, Seq: msg.Seq, Ops: msg.Ops}
	if v.journal != nil {
		if err := v.journal.WriteEdit(entry); err != nil {
			v.log.Printf("journal: flush=%d seq=%d: %v", entry.Flush, entry.Seq, err)
		}
	}
	if v.index != nil {
		v.index.RecordEdit(entry, res)
	}
	return res, nil
}

// Drain closes the current flush window and returns every hull change since
// the previous one.
func (v *Volume) Drain() protocol.DeltaMsg {
	v.flush++
	msg := protocol.DeltaMsg{
		Type:            protocol.TypeDelta,
		ProtocolVersion: protocol.Version,
		Flush:           v.flush,
	}
	sum := FlushSummary{Flush: v.flush, Occupied: v.hull.Len()}
	for _, d := range index.Directions {
		if refs := refsOf(v.hull.HullAdditions(d)); len(refs) > 0 {
			if msg.Added == nil {
				msg.Added = map[string][]protocol.VoxelRef{}
			}
			msg.Added[d.String()] = refs
			sum.Added[d] = len(refs)
		}
		if refs := refsOf(v.hull.HullRemovals(d)); len(refs) > 0 {
			if msg.Removed == nil {
				msg.Removed = map[string][]protocol.VoxelRef{}
			}
			msg.Removed[d.String()] = refs
			sum.Removed[d] = len(refs)
		}
	}
	instrumentFlush(sum)
	if v.index != nil {
		v.index.RecordFlush(sum)
	}
	return msg
}

func refsOf(vs []Voxel) []protocol.VoxelRef {
	if len(vs) == 0 {
		return nil
	}
	out := make([]protocol.VoxelRef, len(vs))
	for i, vx := range vs {
		out[i] = vx.Ref()
	}
	return out
}

// Snapshot returns the complete current hull. Only consistent with the
// delta stream right after a Drain.
func (v *Volume) Snapshot() protocol.HullMsg {
	msg := protocol.HullMsg{
		Type:            protocol.TypeHull,
		ProtocolVersion: protocol.Version,
		Flush:           v.flush,
		Faces:           map[string][]protocol.VoxelRef{},
	}
	for _, d := range index.Directions {
		ps := v.hull.Hull(d)
		refs := make([]protocol.VoxelRef, 0, len(ps))
		for _, p := range ps {
			vx, _ := v.hull.Get(p)
			refs = append(refs, vx.Ref())
		}
		msg.Faces[d.String()] = refs
	}
	return msg
}

// HullSizes reports how many voxels are exposed towards each direction.
func (v *Volume) HullSizes() [index.DirectionCount]int {
	var out [index.DirectionCount]int
	for _, d := range index.Directions {
		out[d] = len(v.hull.HullIDs(d))
	}
	return out
}
