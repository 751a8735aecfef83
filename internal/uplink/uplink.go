// Package uplink is the vessel side of the relay websocket protocol.
// It keeps a single connection to the relay alive, re-registers after
// reconnects, and buffers outbound traffic while the link is down.
package uplink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/coastalguard/beacon/internal/queue"
	"github.com/coastalguard/beacon/pkg/sos"
	"github.com/coastalguard/beacon/pkg/streaming"
)

const (
	sendChSize   = 1024
	ackChSize    = 16
	outboxSize   = 512
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// Config holds relay connection settings.
type Config struct {
	URL      string
	Secret   string
	Identity streaming.RegisterPayload
}

// ack is the normalized shape of every confirmation the relay sends,
// whether it arrives as a registered envelope, an sos_ack envelope, or
// a bare ack message.
type ack struct {
	For string
	ID  string
	Err string
}

// Client maintains the vessel's websocket link to the relay.
type Client struct {
	mu     sync.Mutex
	conn   *ws.Conn
	sendCh chan []byte
	ackCh  chan ack
	done   chan struct{} // closed on shutdown
	closed bool

	cfg Config

	// Register message replayed after every reconnect so the relay
	// puts the session back in the sender room.
	registerMsg []byte

	// Traffic written while the link is down waits here and is
	// flushed after the next successful reconnect.
	outbox *queue.Queue[[]byte]

	onStatus func(sos.Alert)

	logger *slog.Logger
}

// New creates a client; Connect must be called before use.
func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		sendCh: make(chan []byte, sendChSize),
		ackCh:  make(chan ack, ackChSize),
		done:   make(chan struct{}),
		cfg:    cfg,
		outbox: queue.NewBounded[[]byte](outboxSize),
		logger: logger,
	}
}

// OnStatusUpdate installs a callback for alert status changes pushed
// by the relay. Must be called before Connect.
func (c *Client) OnStatusUpdate(fn func(sos.Alert)) {
	c.onStatus = fn
}

// Connect dials the relay, starts the pump goroutines, and registers
// the vessel identity, blocking until the relay confirms it.
func (c *Client) Connect() error {
	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop()
	go c.readLoop()

	data, err := streaming.Wrap(streaming.TypeRegister, c.cfg.Identity)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.registerMsg = data
	c.mu.Unlock()

	return c.sendAndWait(data, streaming.TypeRegister, "", ackTimeout)
}

func (c *Client) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.cfg.Secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("relay dial failed: %w", err)
	}
	return conn, nil
}

// SubmitRecord delivers a queued record over the socket and blocks
// until the relay acknowledges receipt of that specific record.
func (c *Client) SubmitRecord(rec *sos.Record) error {
	return c.submitWithTimeout(rec, ackTimeout)
}

func (c *Client) submitWithTimeout(rec *sos.Record, timeout time.Duration) error {
	data, err := streaming.Wrap(streaming.TypeSubmitSOS, streaming.SubmitPayload{
		Record:         *rec,
		ClientRecordID: rec.ID,
	})
	if err != nil {
		return err
	}
	return c.sendAndWait(data, streaming.TypeSubmitSOS, rec.ID, timeout)
}

// SendLocation pushes a position update, fire-and-forget.
func (c *Client) SendLocation(payload streaming.LocationPingPayload) error {
	data, err := streaming.Wrap(streaming.TypeLocationPing, payload)
	if err != nil {
		return err
	}
	c.send(data)
	return nil
}

// writeLoop drains sendCh and writes to the socket. When the link is
// down, messages divert to the outbox instead of being lost.
func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				c.outbox.Push(data)
				continue
			}

			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("Uplink write deadline error", "error", err)
				c.outbox.PushFront(data)
				go c.reconnect()
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("Uplink write error", "error", err)
				c.outbox.PushFront(data)
				go c.reconnect()
				return
			}
		}
	}
}

// readLoop parses relay traffic into acks and status callbacks.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("Uplink read error", "error", err)
			go c.reconnect()
			return
		}

		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	var env streaming.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Debug("Unparseable relay message", "raw", string(message))
		return
	}

	switch env.Type {
	case streaming.TypeRegistered:
		var payload streaming.RegisteredPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		c.deliverAck(ack{For: streaming.TypeRegister, Err: payload.Error})

	case streaming.TypeSubmitAck:
		var payload streaming.SubmitAckPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		c.deliverAck(ack{For: streaming.TypeSubmitSOS, ID: payload.ClientRecordID})

	case streaming.TypeStatusUpdated:
		if c.onStatus == nil {
			return
		}
		var payload streaming.StatusUpdatedPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		c.onStatus(payload.Alert)

	case "ack":
		// Bare AckMessage, sent for status updates; it shares the
		// "type" key with Envelope but has no payload.
		var msg streaming.AckMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		c.deliverAck(ack{For: msg.For, ID: msg.ID})

	default:
		c.logger.Debug("Unhandled relay message", "type", env.Type)
	}
}

func (c *Client) deliverAck(a ack) {
	select {
	case c.ackCh <- a:
	default:
		c.logger.Debug("Ack channel full, dropping", "for", a.For)
	}
}

// reconnect re-establishes the link with exponential backoff. On
// success it replays the register message, flushes the outbox, and
// restarts the pump goroutines.
func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	backoff := time.Second
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		default:
		}

		c.logger.Info("Reconnecting to relay", "attempt", attempt, "backoff", backoff)
		time.Sleep(backoff)

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		register := c.registerMsg
		c.mu.Unlock()

		if register != nil {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				continue
			}
			if err := conn.WriteMessage(ws.TextMessage, register); err != nil {
				c.logger.Warn("Re-register after reconnect failed", "error", err)
				_ = conn.Close()
				continue
			}
		}

		flushed := 0
		for {
			data, ok := c.outbox.TryPop()
			if !ok {
				break
			}
			c.send(data)
			flushed++
		}

		c.logger.Info("Relay link restored", "attempt", attempt, "flushed", flushed)
		go c.writeLoop()
		go c.readLoop()
		return
	}

	c.logger.Error("Relay reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// send pushes data to the write loop. Non-blocking; drops if the
// buffer is full.
func (c *Client) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.logger.Warn("Uplink send buffer full, dropping message")
	}
}

// sendAndWait sends data and blocks until a matching ack arrives or
// the timeout expires. An empty id matches any ack of the same type.
func (c *Client) sendAndWait(data []byte, ackFor, id string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case a := <-c.ackCh:
			if a.For != ackFor {
				continue
			}
			if id != "" && a.ID != id {
				continue
			}
			if a.Err != "" {
				return fmt.Errorf("relay rejected %s: %s", ackFor, a.Err)
			}
			return nil
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// Close sends a close frame and shuts down the pump goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		)
		return conn.Close()
	}
	return nil
}
