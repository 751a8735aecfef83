package uplink

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastalguard/beacon/internal/logging"
	"github.com/coastalguard/beacon/pkg/sos"
	"github.com/coastalguard/beacon/pkg/streaming"
)

// testRelay is a fake relay server: it records every envelope, acks
// registrations and submissions, and exposes the connection so tests
// can push server-initiated traffic.
func testRelay(t *testing.T) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.setSecret(r.URL.Query().Get("secret"))

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		ml.setConn(c)
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			switch env.Type {
			case streaming.TypeRegister:
				data, _ := streaming.Wrap(streaming.TypeRegistered, streaming.RegisteredPayload{
					OK: true, SessionID: "sess-000001",
				})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			case streaming.TypeSubmitSOS:
				var payload streaming.SubmitPayload
				if err := json.Unmarshal(env.Payload, &payload); err != nil {
					continue
				}
				data, _ := streaming.Wrap(streaming.TypeSubmitAck, streaming.SubmitAckPayload{
					RecordID:       payload.Record.ID,
					ClientRecordID: payload.ClientRecordID,
					ReceivedAt:     time.Now().UTC(),
				})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))

	return srv, ml
}

type messageLog struct {
	mu       sync.Mutex
	messages []streaming.Envelope
	secret   string
	conn     *ws.Conn
}

func (m *messageLog) add(env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) all() []streaming.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]streaming.Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func (m *messageLog) setSecret(s string) {
	m.mu.Lock()
	m.secret = s
	m.mu.Unlock()
}

func (m *messageLog) getSecret() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secret
}

func (m *messageLog) setConn(c *ws.Conn) {
	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()
}

func (m *messageLog) getConn() *ws.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func relayURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := New(Config{
		URL:    relayURL(srv),
		Secret: "uplink-secret",
		Identity: streaming.RegisterPayload{
			ActorID:     "fisher-7",
			Role:        sos.RoleSender,
			DisplayName: "Ravi",
			VesselID:    "TN-07-1234",
		},
	}, logging.NewSlogManager().Logger())
	return c
}

func TestConnect_RegistersIdentity(t *testing.T) {
	srv, ml := testRelay(t)
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.Connect())
	defer c.Close()

	assert.Equal(t, "uplink-secret", ml.getSecret())

	msgs := ml.all()
	require.NotEmpty(t, msgs)
	assert.Equal(t, streaming.TypeRegister, msgs[0].Type)

	var reg streaming.RegisterPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &reg))
	assert.Equal(t, "fisher-7", reg.ActorID)
	assert.Equal(t, sos.RoleSender, reg.Role)
}

func TestSubmitRecord_WaitsForMatchingAck(t *testing.T) {
	srv, ml := testRelay(t)
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.Connect())
	defer c.Close()

	rec := sos.Record{
		ID:       "SOS-20260815-0001",
		Type:     sos.TypeDistress,
		Position: sos.Position{Lat: 9.2885, Lng: 79.3127},
	}
	require.NoError(t, c.SubmitRecord(&rec))

	msgs := ml.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, streaming.TypeSubmitSOS, msgs[1].Type)

	var payload streaming.SubmitPayload
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &payload))
	assert.Equal(t, rec.ID, payload.ClientRecordID)
}

func TestSendLocation_FireAndForget(t *testing.T) {
	srv, ml := testRelay(t)
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.Connect())
	defer c.Close()

	require.NoError(t, c.SendLocation(streaming.LocationPingPayload{
		ActorID:  "fisher-7",
		VesselID: "TN-07-1234",
		Position: sos.Position{Lat: 9.30, Lng: 79.31},
		At:       time.Now().UTC(),
	}))

	// No ack for pings; poll until the server records it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := ml.all()
		if len(msgs) >= 2 && msgs[len(msgs)-1].Type == streaming.TypeLocationPing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("location ping never reached the server")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOnStatusUpdate_Callback(t *testing.T) {
	srv, ml := testRelay(t)
	defer srv.Close()

	c := newTestClient(t, srv)
	got := make(chan sos.Alert, 1)
	c.OnStatusUpdate(func(a sos.Alert) { got <- a })
	require.NoError(t, c.Connect())
	defer c.Close()

	alert := sos.Alert{
		Record:      sos.Record{ID: "SOS-20260815-0002", Type: sos.TypeDistress},
		AlertStatus: sos.AlertAcknowledged,
	}
	data, err := streaming.Wrap(streaming.TypeStatusUpdated, streaming.StatusUpdatedPayload{Alert: alert})
	require.NoError(t, err)
	require.NoError(t, ml.getConn().WriteMessage(ws.TextMessage, data))

	select {
	case a := <-got:
		assert.Equal(t, "SOS-20260815-0002", a.ID)
		assert.Equal(t, sos.AlertAcknowledged, a.AlertStatus)
	case <-time.After(2 * time.Second):
		t.Fatal("status callback never fired")
	}
}

func TestSubmitRecord_TimesOutWithoutAck(t *testing.T) {
	// A server that swallows everything after registration.
	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if json.Unmarshal(msg, &env) == nil && env.Type == streaming.TypeRegister {
				data, _ := streaming.Wrap(streaming.TypeRegistered, streaming.RegisteredPayload{OK: true})
				_ = c.WriteMessage(ws.TextMessage, data)
			}
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.Connect())
	defer c.Close()

	rec := sos.Record{ID: "SOS-20260815-0003", Position: sos.Position{Lat: 9.0, Lng: 79.0}}

	done := make(chan error, 1)
	go func() { done <- c.submitWithTimeout(&rec, 200*time.Millisecond) }()

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	case <-time.After(2 * time.Second):
		t.Fatal("submit never returned")
	}
}
