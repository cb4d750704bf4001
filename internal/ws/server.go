// Package ws serves the live caption stream: clients push raw PCM
// frames and JSON commands up one websocket and receive caption, stats
// and error events back. Outbound events travel via the bus, so any
// number of observers can subscribe to a session's stream.
package ws

import (
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/livespeak-labs/livespeak-core/internal/bus"
	"github.com/livespeak-labs/livespeak-core/internal/protocol"
	"github.com/livespeak-labs/livespeak-core/internal/session"
)

const readDeadline = 60 * time.Second

// Command is the inbound JSON control message.
type Command struct {
	Type string `json:"type"`
}

// Server upgrades caption stream connections and binds each one to at
// most one capture session.
type Server struct {
	manager  *session.Manager
	bus      *bus.Client
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates the websocket caption server.
func NewServer(manager *session.Manager, busClient *bus.Client, log *slog.Logger) *Server {
	return &Server{
		manager: manager,
		bus:     busClient,
		log:     log,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024 * 16,
			WriteBufferSize: 1024 * 16,
		},
	}
}

// conn is one client connection. writeMu serializes writes between the
// command loop and the bus subscription callback.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) writeEvent(ev protocol.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(ev)
}

// Handle is the /ws/captions endpoint.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer wsConn.Close()

	_ = wsConn.SetReadDeadline(time.Now().Add(readDeadline))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c := &conn{ws: wsConn}
	var (
		sess *session.Session
		sub  *nats.Subscription
	)
	defer func() {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		if sess != nil {
			_ = s.manager.Stop(sess.ID())
		}
	}()

	for {
		mt, data, err := wsConn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("ws read error", slog.String("error", err.Error()))
			}
			return
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(readDeadline))

		switch mt {
		case websocket.BinaryMessage:
			s.handleAudio(r, c, sess, data)
		case websocket.TextMessage:
			var done bool
			sess, sub, done = s.handleCommand(c, sess, sub, data)
			if done {
				return
			}
		}
	}
}

// handleAudio feeds one binary PCM frame into the session pipeline.
func (s *Server) handleAudio(r *http.Request, c *conn, sess *session.Session, data []byte) {
	if sess == nil {
		s.writeError(c, "", "no active session, send a start command first")
		return
	}
	if len(data)%2 != 0 {
		s.writeError(c, sess.ID(), "odd-length PCM frame")
		return
	}
	if !s.manager.CaptureEnabled() {
		// Capture is gated off; audio is acknowledged and discarded.
		return
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	if err := sess.PushAudio(r.Context(), samples); err != nil {
		s.writeError(c, sess.ID(), "audio push failed: "+err.Error())
	}
}

// handleCommand executes one JSON control message. The returned done
// flag ends the connection.
func (s *Server) handleCommand(c *conn, sess *session.Session, sub *nats.Subscription, data []byte) (*session.Session, *nats.Subscription, bool) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.writeError(c, sessionID(sess), "invalid command JSON")
		return sess, sub, false
	}

	switch cmd.Type {
	case "ping":
		s.writeInfo(c, sessionID(sess), "pong")

	case "start":
		if sess != nil {
			s.writeError(c, sess.ID(), "session already started")
			return sess, sub, false
		}
		sess = s.manager.Start()
		newSub, err := s.bus.SubscribeSession(sess.ID(), func(ev protocol.Event) {
			if err := c.writeEvent(ev); err != nil {
				s.log.Debug("ws event write failed", slog.String("error", err.Error()))
			}
		})
		if err != nil {
			s.log.Warn("stream subscription failed", slog.String("error", err.Error()))
			_ = s.manager.Stop(sess.ID())
			s.writeError(c, "", "session start failed")
			return nil, sub, false
		}
		sub = newSub
		s.writeInfo(c, sess.ID(), "session started")

	case "stop":
		if sess == nil {
			s.writeError(c, "", "no active session")
			return sess, sub, false
		}
		id := sess.ID()
		_ = s.manager.Stop(id)
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		s.writeInfo(c, id, "session stopped")
		return nil, nil, false

	case "stats":
		if sess == nil {
			s.writeError(c, "", "no active session")
			return sess, sub, false
		}
		stats := sess.Stats()
		_ = c.writeEvent(protocol.Event{
			Type:      protocol.EventTypeStats,
			SessionID: sess.ID(),
			Stats:     &stats,
		})

	case "history":
		if sess == nil {
			s.writeError(c, "", "no active session")
			return sess, sub, false
		}
		entries := sess.History()
		hist := protocol.HistoryEvent{
			Entries:   make([]protocol.CaptionEvent, 0, len(entries)),
			Timestamp: time.Now(),
		}
		for _, e := range entries {
			hist.Entries = append(hist.Entries, protocol.CaptionEvent{
				SequenceNo: e.SequenceNo,
				Text:       e.Text,
				Source:     string(e.Source),
				State:      e.State.String(),
				Timestamp:  e.Timestamp,
			})
		}
		_ = c.writeEvent(protocol.Event{
			Type:      protocol.EventTypeHistory,
			SessionID: sess.ID(),
			History:   &hist,
		})

	default:
		s.writeError(c, sessionID(sess), "unknown command type: "+cmd.Type)
	}
	return sess, sub, false
}

func (s *Server) writeError(c *conn, sessionID, detail string) {
	_ = c.writeEvent(protocol.Event{
		Type:      protocol.EventTypeError,
		SessionID: sessionID,
		Error:     &protocol.ErrorEvent{Detail: detail, Timestamp: time.Now()},
	})
}

func (s *Server) writeInfo(c *conn, sessionID, message string) {
	_ = c.writeEvent(protocol.Event{
		Type:       protocol.EventTypeSystemInfo,
		SessionID:  sessionID,
		SystemInfo: &protocol.SystemInfoEvent{Message: message, Timestamp: time.Now()},
	})
}

func sessionID(s *session.Session) string {
	if s == nil {
		return ""
	}
	return s.ID()
}
