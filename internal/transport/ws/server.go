package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelhull.dev/internal/protocol"
	"voxelhull.dev/internal/volume"
)

const (
	defaultQueue = 8
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

type Server struct {
	vol      *volume.Volume
	log      *log.Logger
	maxQueue int

	upgrader websocket.Upgrader
}

// NewServer serves one volume. maxQueue caps the per-client outbound queue a
// client may ask for in HELLO.
func NewServer(v *volume.Volume, maxQueue int, logger *log.Logger) *Server {
	if maxQueue <= 0 {
		maxQueue = defaultQueue
	}
	return &Server{
		vol:      v,
		log:      logger,
		maxQueue: maxQueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// BootstrapHandler reports the static parameters of the volume so a client
// can size its scene before opening the socket.
func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		resp := struct {
			ProtocolVersion string                `json:"protocol_version"`
			VolumeID        string                `json:"volume_id"`
			Params          protocol.VolumeParams `json:"params"`
		}{protocol.Version, s.vol.ID(), s.vol.Params()}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(r.Context(), conn)
		if sessionID == "" {
			return
		}
		s.log.Printf("session %s joined", sessionID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Replies produced by this connection (ERROR). The volume owns out and
		// may close it, so local replies never go through it.
		local := make(chan []byte, 4)

		// Writer goroutine.
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-local:
				case msg, ok := <-out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage, s.closeReason(), time.Now().Add(time.Second))
						_ = conn.Close()
						cancel()
						return
					}
					b = msg
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()

		reply := func(code, msg string, seq uint64) {
			b, _ := json.Marshal(protocol.NewError(code, msg, seq))
			select {
			case local <- b:
			default:
			}
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			env, code, reason := decodeEdit(msg)
			if code != "" {
				reply(code, reason, env.Edit.Seq)
				continue
			}
			env.SessionID = sessionID
			select {
			case s.vol.Inbox() <- env:
			default:
				reply(protocol.ErrBusy, "volume inbox full", env.Edit.Seq)
			}
		}

		s.leave(sessionID)
		s.log.Printf("session %s left", sessionID)
	}
}

// closeReason tells a client whose queue the volume closed why. The volume
// marks itself done before closing queues on shutdown.
func (s *Server) closeReason() []byte {
	select {
	case <-s.vol.Done():
		return websocket.FormatCloseMessage(websocket.CloseGoingAway, "volume shutting down")
	default:
		// Dropped for a full queue; the client has to resync.
		return websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "queue overflow")
	}
}

// leave tells the loop a session is gone, unless the loop has stopped.
func (s *Server) leave(sessionID string) {
	select {
	case s.vol.Leave() <- sessionID:
	case <-s.vol.Done():
	}
}

// decodeEdit turns one client frame into an edit envelope, or an error code
// and reason for the reply.
func decodeEdit(msg []byte) (volume.EditEnvelope, string, string) {
	var env volume.EditEnvelope
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return env, protocol.ErrProtoBadRequest, "malformed json"
	}
	if base.Type != protocol.TypeEdit {
		return env, protocol.ErrProtoBadRequest, "unexpected message type " + base.Type
	}
	if base.ProtocolVersion != protocol.Version {
		return env, protocol.ErrProtoVersion, "bad protocol_version"
	}
	if err := protocol.ValidateEdit(msg); err != nil {
		_ = json.Unmarshal(msg, &env.Edit)
		return env, protocol.ErrProtoBadRequest, err.Error()
	}
	if err := json.Unmarshal(msg, &env.Edit); err != nil {
		return env, protocol.ErrProtoBadRequest, err.Error()
	}
	return env, "", ""
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}
	if base.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "bad protocol_version", 0))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if err := protocol.ValidateHello(msg); err != nil {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, err.Error(), 0))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = defaultQueue
	}
	if maxQ > s.maxQueue {
		maxQ = s.maxQueue
	}
	out = make(chan []byte, maxQ)

	sessionID = uuid.NewString()
	respCh := make(chan volume.JoinResponse, 1)
	select {
	case s.vol.Join() <- volume.JoinRequest{SessionID: sessionID, Out: out, Resp: respCh}:
	case <-s.vol.Done():
		s.refuseStopped(conn)
		return "", nil
	case <-ctx.Done():
		return "", nil
	}
	var resp volume.JoinResponse
	select {
	case resp = <-respCh:
	case <-s.vol.Done():
		s.refuseStopped(conn)
		return "", nil
	case <-ctx.Done():
		// The join is queued; wait until it is registered, then take it out.
		select {
		case <-respCh:
			s.leave(sessionID)
		case <-s.vol.Done():
		}
		return "", nil
	}

	// Welcome + full hull before any delta.
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.leave(sessionID)
		return "", nil
	}
	if err := writeJSON(conn, resp.Hull); err != nil {
		s.leave(sessionID)
		return "", nil
	}
	return sessionID, out
}

func (s *Server) refuseStopped(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "volume shutting down"), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
