package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/coastalguard/beacon/pkg/sos"
	"github.com/coastalguard/beacon/pkg/streaming"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendChSize     = 256
)

// Session is one connected websocket client. A session carries no
// identity until it registers; only registered sessions join a room.
type Session struct {
	ID   string
	hub  *Hub
	conn *ws.Conn
	send chan []byte

	logger *slog.Logger

	mu         sync.Mutex
	registered bool
	actor      sos.Actor
}

func newSession(id string, hub *Hub, conn *ws.Conn, logger *slog.Logger) *Session {
	return &Session{
		ID:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendChSize),
		logger: logger,
	}
}

// Actor returns the registered identity, zero until registration.
func (s *Session) Actor() sos.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actor
}

func (s *Session) setActor(a sos.Actor) {
	s.mu.Lock()
	s.actor = a
	s.registered = true
	s.mu.Unlock()
}

func (s *Session) isRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

// enqueue hands data to the write pump. Returns false when the buffer
// is full; callers decide whether the message matters enough to log.
func (s *Session) enqueue(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// enqueueJSON wraps a payload and enqueues it.
func (s *Session) enqueueJSON(msgType string, payload any) {
	data, err := streaming.Wrap(msgType, payload)
	if err != nil {
		s.logger.Error("Encoding outbound message failed", "type", msgType, "error", err)
		return
	}
	if !s.enqueue(data) {
		s.logger.Warn("Session send buffer full, dropping", "session", s.ID, "type", msgType)
	}
}

func (s *Session) sendError(message string) {
	s.enqueueJSON(streaming.TypeError, streaming.ErrorPayload{Message: message})
}

// readPump reads envelopes off the socket and routes them through the
// hub until the connection dies.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure) {
				s.logger.Warn("Session read error", "session", s.ID, "error", err)
			}
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError("malformed envelope")
			continue
		}
		s.hub.route(s, env)
	}
}

// writePump drains the send buffer and keeps the connection alive
// with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(ws.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(ws.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
