package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"voxelhull.dev/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "painter", "client name")
		every  = flag.Duration("every", 500*time.Millisecond, "interval between strokes")
		length = flag.Int("stroke", 12, "voxels per stroke")
		erase  = flag.Float64("erase", 0.3, "probability that a stroke erases instead of paints")
		seed   = flag.Int64("seed", 0, "rng seed (0: time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[painter] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 16},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	p := &painter{
		rng:    rand.New(rand.NewSource(*seed)),
		length: *length,
		erase:  *erase,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	msgs := make(chan []byte, 16)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("read: %v", err)
				return
			}
			msgs <- msg
		}
	}()

	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			p.handle(logger, msg)
		case <-ticker.C:
			if !p.ready() {
				continue
			}
			if err := conn.WriteJSON(p.stroke()); err != nil {
				logger.Printf("send EDIT: %v", err)
				return
			}
		}
	}
}

type painter struct {
	rng    *rand.Rand
	length int
	erase  float64

	radius int32
	seq    uint64
}

func (p *painter) ready() bool { return p.radius > 0 }

func (p *painter) handle(logger *log.Logger, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return
		}
		p.radius = w.Params.Radius
		if p.length > w.Params.MaxBatch {
			p.length = w.Params.MaxBatch
		}
		logger.Printf("WELCOME session=%s volume=%s radius=%d flush_rate=%d", w.SessionID, w.VolumeID, w.Params.Radius, w.Params.FlushRateHz)

	case protocol.TypeHull:
		var h protocol.HullMsg
		if err := json.Unmarshal(msg, &h); err != nil {
			return
		}
		logger.Printf("HULL flush=%d +y=%d -y=%d", h.Flush, len(h.Faces["+y"]), len(h.Faces["-y"]))

	case protocol.TypeDelta:
		var d protocol.DeltaMsg
		if err := json.Unmarshal(msg, &d); err != nil {
			return
		}
		added, removed := d.Counts()
		logger.Printf("DELTA flush=%d added=%d removed=%d", d.Flush, added, removed)

	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return
		}
		logger.Printf("ERROR seq=%d code=%s %s", e.Seq, e.Code, e.Message)
	}
}

// stroke walks a random axis-aligned path from a random start inside the
// volume, painting or erasing every voxel it visits.
func (p *painter) stroke() protocol.EditMsg {
	p.seq++
	span := int(2 * p.radius)
	pos := [3]int32{
		int32(p.rng.Intn(span)) - p.radius,
		int32(p.rng.Intn(span)) - p.radius,
		int32(p.rng.Intn(span)) - p.radius,
	}
	op := protocol.OpSet
	if p.rng.Float64() < p.erase {
		op = protocol.OpClear
	}
	color := p.rng.Uint32() & 0xffffff

	ops := make([]protocol.EditOp, 0, p.length)
	for i := 0; i < p.length; i++ {
		ops = append(ops, protocol.EditOp{Op: op, Pos: pos, Color: color})
		axis := p.rng.Intn(3)
		step := int32(1)
		if p.rng.Intn(2) == 0 {
			step = -1
		}
		next := pos[axis] + step
		if next < -p.radius || next >= p.radius {
			next = pos[axis] - step
		}
		pos[axis] = next
	}
	if op == protocol.OpClear {
		for i := range ops {
			ops[i].Color = 0
		}
	}
	return protocol.EditMsg{
		Type:            protocol.TypeEdit,
		ProtocolVersion: protocol.Version,
		Seq:             p.seq,
		Ops:             ops,
	}
}
