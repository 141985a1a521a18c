package volume

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"voxelhull.dev/internal/protocol"
)

// ErrStopped is returned by calls that need the loop after Run has returned.
var ErrStopped = errors.New("volume stopped")

// EditEnvelope carries one client EDIT into the volume loop.
type EditEnvelope struct {
	SessionID string
	Edit      protocol.EditMsg
}

type JoinRequest struct {
	SessionID string
	Out       chan []byte
	Resp      chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	Hull    protocol.HullMsg
}

type subscriber struct {
	out chan []byte
}

func (v *Volume) Inbox() chan<- EditEnvelope { return v.inbox }
func (v *Volume) Join() chan<- JoinRequest   { return v.join }
func (v *Volume) Leave() chan<- string       { return v.leave }

// Done is closed once Run has returned and nothing reads the channels above.
func (v *Volume) Done() <-chan struct{} { return v.done }

func (v *Volume) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(v.cfg.FlushRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingEdits []EditEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingSnapshots []snapshotReq

	for {
		select {
		case <-ctx.Done():
			v.shutdown()
			return ctx.Err()
		case <-v.stop:
			v.shutdown()
			return nil
		case req := <-v.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-v.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-v.inbox:
			pendingEdits = append(pendingEdits, env)
		case req := <-v.admin:
			pendingSnapshots = append(pendingSnapshots, req)
		case <-ticker.C:
			v.StepOnce(pendingJoins, pendingLeaves, pendingEdits)
			v.handleSnapshotRequests(pendingSnapshots)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingEdits = pendingEdits[:0]
			pendingSnapshots = pendingSnapshots[:0]
		}
	}
}

func (v *Volume) Stop() { close(v.stop) }

// StepOnce runs one flush: leaves, then edits in arrival order, then one
// drain broadcast to existing subscribers, then joins. Joining after the
// drain keeps the HULL snapshot consistent with the deltas that follow it.
func (v *Volume) StepOnce(joins []JoinRequest, leaves []string, edits []EditEnvelope) protocol.DeltaMsg {
	for _, id := range leaves {
		v.removeSubscriber(id)
	}

	for _, env := range edits {
		if _, err := v.Apply(env.SessionID, env.Edit); err != nil {
			v.sendError(env.SessionID, env.Edit.Seq, err)
		}
	}

	delta := v.Drain()
	v.maybeSnapshot()
	if !delta.Empty() && len(v.subs) > 0 {
		if b, err := json.Marshal(delta); err == nil {
			for id := range v.subs {
				v.send(id, b)
			}
		} else {
			v.log.Printf("marshal delta flush=%d: %v", delta.Flush, err)
		}
	}

	for _, req := range joins {
		v.addSubscriber(req)
	}
	return delta
}

func (v *Volume) addSubscriber(req JoinRequest) {
	if req.Out != nil {
		v.subs[req.SessionID] = &subscriber{out: req.Out}
		instrumentSubscribers(v.cfg.ID, len(v.subs))
	}
	if req.Resp == nil {
		return
	}
	req.Resp <- JoinResponse{
		Welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       req.SessionID,
			VolumeID:        v.cfg.ID,
			Params:          v.Params(),
		},
		Hull: v.Snapshot(),
	}
}

func (v *Volume) removeSubscriber(id string) {
	s, ok := v.subs[id]
	if !ok {
		return
	}
	delete(v.subs, id)
	close(s.out)
	instrumentSubscribers(v.cfg.ID, len(v.subs))
}

// shutdown marks the loop done before closing subscriber queues, so a reader
// that sees its queue closed can tell shutdown from being dropped.
func (v *Volume) shutdown() {
	close(v.done)
	v.closeSubscribers()
}

func (v *Volume) closeSubscribers() {
	for id := range v.subs {
		v.removeSubscriber(id)
	}
}

// send never blocks the loop. A subscriber whose queue is full has missed a
// delta and can no longer patch its mesh, so it is dropped.
func (v *Volume) send(id string, b []byte) {
	s, ok := v.subs[id]
	if !ok {
		return
	}
	select {
	case s.out <- b:
	default:
		v.log.Printf("subscriber %s: queue full, dropping", id)
		instrumentDroppedSubscriber(v.cfg.ID)
		v.removeSubscriber(id)
	}
}

func (v *Volume) sendError(id string, seq uint64, err error) {
	code := protocol.ErrInternal
	var ee *EditError
	if errors.As(err, &ee) {
		code = ee.Code
	}
	b, mErr := json.Marshal(protocol.NewError(code, err.Error(), seq))
	if mErr != nil {
		return
	}
	v.send(id, b)
}
