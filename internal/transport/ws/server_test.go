package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelhull.dev/internal/protocol"
	"voxelhull.dev/internal/volume"
)

func startServer(t *testing.T) (*httptest.Server, *volume.Volume) {
	t.Helper()
	srv, v, _ := startStoppableServer(t)
	return srv, v
}

// startStoppableServer also returns a func that stops the volume loop and
// waits for it.
func startStoppableServer(t *testing.T) (*httptest.Server, *volume.Volume, func()) {
	t.Helper()
	v, err := volume.New(volume.Config{ID: "ws-test", Radius: 8, FlushRateHz: 50, MaxBatch: 16})
	if err != nil {
		t.Fatalf("volume.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = v.Run(ctx)
	}()

	s := NewServer(v, 16, log.New(io.Discard, "", 0))
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", s.Handler())
	mux.HandleFunc("/v1/volume", s.BootstrapHandler())
	srv := httptest.NewServer(mux)
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(func() {
		srv.Close()
		stop()
	})
	return srv, v, stop
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn, into any) protocol.BaseMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		t.Fatalf("decode base: %v", err)
	}
	if into != nil {
		if err := json.Unmarshal(b, into); err != nil {
			t.Fatalf("decode %s: %v", base.Type, err)
		}
	}
	return base
}

func hello() protocol.HelloMsg {
	return protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "test",
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	}
}

func TestHandshakeEditDelta(t *testing.T) {
	srv, _ := startServer(t)
	conn := dial(t, srv)

	send(t, conn, hello())
	var welcome protocol.WelcomeMsg
	if base := read(t, conn, &welcome); base.Type != protocol.TypeWelcome {
		t.Fatalf("expected WELCOME, got %s", base.Type)
	}
	if welcome.SessionID == "" || welcome.VolumeID != "ws-test" || welcome.Params.Radius != 8 {
		t.Fatalf("welcome: %+v", welcome)
	}
	var hull protocol.HullMsg
	if base := read(t, conn, &hull); base.Type != protocol.TypeHull {
		t.Fatalf("expected HULL, got %s", base.Type)
	}
	if len(hull.Faces["+y"]) != 0 {
		t.Fatalf("fresh volume should have an empty hull: %+v", hull.Faces)
	}

	send(t, conn, protocol.EditMsg{
		Type:            protocol.TypeEdit,
		ProtocolVersion: protocol.Version,
		Seq:             1,
		Ops:             []protocol.EditOp{{Op: protocol.OpSet, Pos: [3]int32{1, 2, 3}, Color: 0xff0000}},
	})
	var delta protocol.DeltaMsg
	if base := read(t, conn, &delta); base.Type != protocol.TypeDelta {
		t.Fatalf("expected DELTA, got %s", base.Type)
	}
	added, removed := delta.Counts()
	if added != 6 || removed != 0 {
		t.Fatalf("delta counts added=%d removed=%d", added, removed)
	}
	if got := delta.Added["-z"]; len(got) != 1 || got[0].Pos != [3]int32{1, 2, 3} || got[0].Color != 0xff0000 {
		t.Fatalf("-z added: %+v", got)
	}
}

func TestRejectedEditsGetErrors(t *testing.T) {
	srv, _ := startServer(t)
	conn := dial(t, srv)
	send(t, conn, hello())
	read(t, conn, nil)
	read(t, conn, nil)

	cases := []struct {
		msg  any
		code string
	}{
		{map[string]any{"type": "EDIT", "protocol_version": "0.1", "seq": 1, "ops": []any{}}, protocol.ErrProtoVersion},
		{map[string]any{"type": "EDIT", "protocol_version": protocol.Version, "seq": 2, "ops": []any{map[string]any{"op": "PAINT", "pos": []int{0, 0, 0}}}}, protocol.ErrProtoBadRequest},
		{map[string]any{"type": "PING", "protocol_version": protocol.Version}, protocol.ErrProtoBadRequest},
		{protocol.EditMsg{
			Type:            protocol.TypeEdit,
			ProtocolVersion: protocol.Version,
			Seq:             4,
			Ops:             []protocol.EditOp{{Op: protocol.OpSet, Pos: [3]int32{0, 8, 0}}},
		}, protocol.ErrOutOfRange},
	}
	for i, c := range cases {
		send(t, conn, c.msg)
		var em protocol.ErrorMsg
		if base := read(t, conn, &em); base.Type != protocol.TypeError || em.Code != c.code {
			t.Fatalf("case %d: expected %s, got %s %+v", i, c.code, base.Type, em)
		}
	}
}

func TestHandshakeRequiresHello(t *testing.T) {
	srv, _ := startServer(t)
	conn := dial(t, srv)
	send(t, conn, protocol.EditMsg{Type: protocol.TypeEdit, ProtocolVersion: protocol.Version})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestBootstrapHandler(t *testing.T) {
	srv, _ := startServer(t)
	resp, err := http.Get(srv.URL + "/v1/volume")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		VolumeID string                `json:"volume_id"`
		Params   protocol.VolumeParams `json:"params"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.VolumeID != "ws-test" || body.Params.MaxBatch != 16 {
		t.Fatalf("bootstrap: %+v", body)
	}
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, code) {
			t.Fatalf("expected close %d, got %v", code, err)
		}
		return
	}
}

func TestShutdownClosesWithGoingAway(t *testing.T) {
	srv, _, stop := startStoppableServer(t)
	conn := dial(t, srv)
	send(t, conn, hello())
	read(t, conn, nil)
	read(t, conn, nil)

	stop()
	expectClose(t, conn, websocket.CloseGoingAway)
}

func TestHandshakeAfterStopIsRefused(t *testing.T) {
	srv, _, stop := startStoppableServer(t)
	stop()

	conn := dial(t, srv)
	send(t, conn, hello())
	expectClose(t, conn, websocket.CloseGoingAway)
}
