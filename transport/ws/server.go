// Package ws serves the simulation to browsers and tools over WebSocket and
// plain HTTP. Every tick a connected client receives a shared.TickFrame, as a
// JSON text message or, with ?format=msgpack, a msgpack binary message.
// Clients may send walk commands back on the same socket.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"officesim/grid"
	"officesim/shared"
	"officesim/sim"
	"officesim/transport"
)

var ErrUnknownCommand = errors.New("unknown command")

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Format selects the frame encoding of a connection
type Format int

const (
	FormatJSON Format = iota
	FormatMsgpack
)

func (f Format) String() string {
	if f == FormatMsgpack {
		return "msgpack"
	}
	return "json"
}

// Reply answers an inbound command
type Reply struct {
	Type    string             `json:"type" msgpack:"type"`
	Command shared.CommandType `json:"command" msgpack:"command"`
	AgentID int                `json:"agent_id" msgpack:"agent_id"`
	Error   string             `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Server wraps the simulation core with WebSocket functionality
type Server struct {
	core     *sim.Core
	frames   *transport.Broadcaster[shared.TickFrame]
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewServer(core *sim.Core, frames *transport.Broadcaster[shared.TickFrame], logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		core:   core,
		frames: frames,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow connections from any origin
			},
		},
		log: logger.With("transport", "ws"),
	}
}

// Handler routes /ws, /health and /status
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/health", s.HealthCheck)
	mux.HandleFunc("/status", s.Status)
	return mux
}

// session serializes writes to one connection
type session struct {
	conn   *websocket.Conn
	format Format
	mu     sync.Mutex
}

func (c *session) write(v any) error {
	var (
		kind int
		data []byte
		err  error
	)
	if c.format == FormatMsgpack {
		kind = websocket.BinaryMessage
		data, err = msgpack.Marshal(v)
	} else {
		kind = websocket.TextMessage
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.format, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}

func (c *session) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// HandleWS upgrades the connection, sends the current state and then one
// frame per tick until the client disconnects
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	format := FormatJSON
	switch f := r.URL.Query().Get("format"); f {
	case "", "json":
	case "msgpack":
		format = FormatMsgpack
	default:
		http.Error(w, fmt.Sprintf("unknown format %q", f), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade connection", "error", err)
		return
	}
	sess := &session{conn: conn, format: format}
	defer conn.Close()

	id, frames := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	log := s.log.With("client", id, "format", format)
	log.Info("client connected", "remote", r.RemoteAddr)

	gs := s.core.Snapshot()
	if err := sess.write(shared.TickFrame{Tick: gs.Tick, State: gs, Signals: []shared.Signal{}}); err != nil {
		log.Warn("failed to send initial state", "error", err)
		return
	}

	go s.pump(sess, frames, log)

	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			log.Info("client disconnected", "reason", err)
			return
		}
		var cmd shared.Command
		if kind == websocket.BinaryMessage {
			err = msgpack.Unmarshal(payload, &cmd)
		} else {
			err = json.Unmarshal(payload, &cmd)
		}
		if err != nil {
			log.Warn("discarding malformed message", "error", err)
			continue
		}

		reply := Reply{Type: "ack", Command: cmd.Type, AgentID: cmd.AgentID}
		if err := s.apply(cmd); err != nil {
			reply.Type = "error"
			reply.Error = err.Error()
		}
		if err := sess.write(reply); err != nil {
			log.Warn("failed to send reply", "error", err)
			return
		}
	}
}

// pump forwards frames until the subscription ends or a write fails
func (s *Server) pump(sess *session, frames <-chan shared.TickFrame, log *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				_ = sess.conn.Close()
				return
			}
			if err := sess.write(frame); err != nil {
				log.Warn("failed to send frame", "tick", frame.Tick, "error", err)
				_ = sess.conn.Close()
				return
			}
		case <-ticker.C:
			if err := sess.ping(); err != nil {
				log.Warn("ping failed", "error", err)
				_ = sess.conn.Close()
				return
			}
		}
	}
}

func (s *Server) apply(cmd shared.Command) error {
	id, err := sim.AgentID(cmd.AgentID)
	if err != nil {
		return err
	}
	switch cmd.Type {
	case shared.CommandSetDestination:
		return s.core.SetDestination(id, grid.Position{X: cmd.X, Y: cmd.Y})
	case shared.CommandClearDestination:
		return s.core.ClearDestination(id)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}

// HealthCheck reports that the server is up
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// Status returns the current grid state
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.core.Snapshot())
}
