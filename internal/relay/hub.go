// Package relay is the shore side of the system: it accepts SOS
// traffic from vessels over websocket and REST, fans alerts out to
// coastal authority monitors, replays what a monitor missed while
// offline, and deduplicates records that arrive on more than one path.
package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coastalguard/beacon/internal/cache"
	"github.com/coastalguard/beacon/internal/dispatcher"
	"github.com/coastalguard/beacon/internal/geo"
	"github.com/coastalguard/beacon/internal/logging"
	"github.com/coastalguard/beacon/pkg/sos"
	"github.com/coastalguard/beacon/pkg/streaming"
)

// Dependencies holds all dependencies for the relay hub
type Dependencies struct {
	LogManager *logging.SlogManager
	Alerts     *cache.AlertCache
	LastSeen   *cache.LastSeenCache
}

// Hub owns the rooms and the alert state. All fan-out goes through it.
type Hub struct {
	deps   Dependencies
	logger *slog.Logger

	dispatcher *dispatcher.Dispatcher

	mu       sync.RWMutex
	sessions map[string]*Session // every connected session, by id
	senders  map[string]*Session // registered vessel sessions
	monitors map[string]*Session // registered authority sessions

	relaySeq   cache.SafeCounter
	sessionSeq cache.SafeCounter
}

// NewHub creates the hub and wires its message handlers.
func NewHub(deps Dependencies) (*Hub, error) {
	h := &Hub{
		deps:     deps,
		logger:   deps.LogManager.Logger(),
		sessions: make(map[string]*Session),
		senders:  make(map[string]*Session),
		monitors: make(map[string]*Session),
	}

	d, err := dispatcher.New(h.logger)
	if err != nil {
		return nil, fmt.Errorf("creating relay dispatcher: %w", err)
	}

	// Distress traffic is handled inline so the sender's ack is
	// synchronous with the fan-out. Position pings are best-effort
	// and drop under load instead of queueing behind alerts.
	d.Register(streaming.TypeRegister, h.handleRegister)
	d.Register(streaming.TypeSubmitSOS, h.handleSubmit, dispatcher.Logged())
	d.Register(streaming.TypeUpdateStatus, h.handleUpdateStatus, dispatcher.Logged())
	d.Register(streaming.TypeLocationPing, h.handleLocationPing, dispatcher.Buffered(256))
	d.Register(streaming.TypePing, h.handlePing)

	h.dispatcher = d
	return h, nil
}

// NewSessionID mints a fresh session identifier.
func (h *Hub) NewSessionID() string {
	return fmt.Sprintf("sess-%06d", h.sessionSeq.Inc())
}

// attach puts a freshly upgraded connection under hub management.
func (h *Hub) attach(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	_, known := h.sessions[s.ID]
	_, wasMonitor := h.monitors[s.ID]
	delete(h.sessions, s.ID)
	delete(h.senders, s.ID)
	delete(h.monitors, s.ID)
	h.mu.Unlock()

	if !known {
		return
	}
	// Mark the monitor caught up to this instant; on reconnect only
	// alerts received after this point are replayed.
	if wasMonitor {
		h.deps.Alerts.MarkSeen(s.Actor().ID, time.Now().UTC())
	}
	close(s.send)
	h.logger.Info("Session disconnected", "session", s.ID)
	h.broadcastUsersCount()
}

// route dispatches an inbound envelope for a session.
func (h *Hub) route(s *Session, env streaming.Envelope) {
	_, err := h.dispatcher.Dispatch(dispatcher.Message{
		Type:      env.Type,
		SessionID: s.ID,
		Payload:   env.Payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.sendError(err.Error())
	}
}

func (h *Hub) session(id string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[id]
}

// Counts reports the number of registered clients per room.
func (h *Hub) Counts() streaming.OnlineCount {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return streaming.OnlineCount{
		Monitors: len(h.monitors),
		Senders:  len(h.senders),
	}
}

// ─── Handlers ───────────────────────────────────────────────────────

func (h *Hub) handleRegister(m dispatcher.Message) (any, error) {
	s := h.session(m.SessionID)
	if s == nil {
		return nil, fmt.Errorf("unknown session %s", m.SessionID)
	}

	var payload streaming.RegisterPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return nil, fmt.Errorf("malformed register payload")
	}
	if payload.Role != sos.RoleSender && payload.Role != sos.RoleMonitor {
		s.enqueueJSON(streaming.TypeRegistered, streaming.RegisteredPayload{
			SessionID: s.ID,
			Error:     fmt.Sprintf("unknown role %q", payload.Role),
		})
		return nil, nil
	}

	s.setActor(sos.Actor{
		ID:          payload.ActorID,
		Role:        payload.Role,
		DisplayName: payload.DisplayName,
		VesselID:    payload.VesselID,
	})

	h.mu.Lock()
	if payload.Role == sos.RoleMonitor {
		h.monitors[s.ID] = s
	} else {
		h.senders[s.ID] = s
	}
	h.mu.Unlock()

	h.logger.Info("Session registered",
		"session", s.ID, "role", string(payload.Role), "actor", payload.ActorID)

	s.enqueueJSON(streaming.TypeRegistered, streaming.RegisteredPayload{
		OK:        true,
		SessionID: s.ID,
		Counts:    h.Counts(),
	})

	// A monitor that was offline gets the backlog immediately, in the
	// order the alerts originally arrived.
	if payload.Role == sos.RoleMonitor {
		missed := h.deps.Alerts.MissedSince(payload.ActorID)
		if len(missed) > 0 {
			s.enqueueJSON(streaming.TypeMissedSOS, streaming.MissedSOSPayload{
				Alerts: missed,
				Count:  len(missed),
			})
			for _, a := range missed {
				h.deps.Alerts.MarkDelivered(a.ID, payload.ActorID)
			}
			h.logger.Info("Replayed missed alerts", "session", s.ID, "count", len(missed))
		}
	}

	h.broadcastUsersCount()
	return nil, nil
}

func (h *Hub) handleSubmit(m dispatcher.Message) (any, error) {
	s := h.session(m.SessionID)
	if s == nil {
		return nil, fmt.Errorf("unknown session %s", m.SessionID)
	}

	var payload streaming.SubmitPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return nil, fmt.Errorf("malformed submit payload")
	}

	clientID := payload.ClientRecordID
	if clientID == "" {
		clientID = payload.Record.ID
	}

	alert, _, err := h.Accept(payload.Record, clientID)
	if err != nil {
		return nil, err
	}

	// The sender's ack goes out whether or not this was a duplicate;
	// from the vessel's point of view the SOS is on shore either way.
	s.enqueueJSON(streaming.TypeSubmitAck, streaming.SubmitAckPayload{
		RecordID:       alert.ID,
		ClientRecordID: clientID,
		ReceivedAt:     alert.ReceivedAt,
		MonitorsOnline: h.Counts().Monitors,
	})
	return alert.ID, nil
}

func (h *Hub) handleUpdateStatus(m dispatcher.Message) (any, error) {
	s := h.session(m.SessionID)
	if s == nil {
		return nil, fmt.Errorf("unknown session %s", m.SessionID)
	}
	if actor := s.Actor(); actor.Role != sos.RoleMonitor {
		return nil, fmt.Errorf("only monitors can update alert status")
	}

	var payload streaming.UpdateStatusPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return nil, fmt.Errorf("malformed status payload")
	}

	by := s.Actor().DisplayName
	if by == "" {
		by = s.Actor().ID
	}

	alert, ok := h.SetStatus(payload.RecordID, payload.Status, by)
	if !ok {
		return nil, fmt.Errorf("alert %s not found or transition not allowed", payload.RecordID)
	}

	ack, err := json.Marshal(streaming.AckMessage{
		Type: "ack",
		For:  streaming.TypeUpdateStatus,
		ID:   alert.ID,
	})
	if err == nil {
		s.enqueue(ack)
	}
	return alert.ID, nil
}

func (h *Hub) handleLocationPing(m dispatcher.Message) (any, error) {
	var payload streaming.LocationPingPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return nil, fmt.Errorf("malformed location payload")
	}
	if err := geo.Validate(payload.Position); err != nil {
		return nil, err
	}
	if payload.At.IsZero() {
		payload.At = m.Timestamp
	}

	h.deps.LastSeen.Update(cache.LastSeen{
		VesselID:  payload.VesselID,
		SessionID: m.SessionID,
		Position:  payload.Position,
		At:        payload.At,
	})

	data, err := streaming.Wrap(streaming.TypeLocation, payload)
	if err != nil {
		return nil, err
	}
	h.broadcastToMonitors(data)
	return nil, nil
}

func (h *Hub) handlePing(m dispatcher.Message) (any, error) {
	s := h.session(m.SessionID)
	if s == nil {
		return nil, fmt.Errorf("unknown session %s", m.SessionID)
	}
	s.enqueueJSON(streaming.TypePong, streaming.PongPayload{ServerTime: time.Now().UTC()})
	return nil, nil
}

// ─── Shared entry points (websocket and REST both land here) ────────

// Accept takes a record into the alert state and fans it out to
// monitors. Returns the canonical alert; added is false when the
// record was already known under either id.
func (h *Hub) Accept(rec sos.Record, clientRecordID string) (sos.Alert, bool, error) {
	if err := geo.Validate(rec.Position); err != nil {
		return sos.Alert{}, false, err
	}
	if rec.Type == "" {
		rec.Type = sos.TypeDistress
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("REL-%04d", h.relaySeq.Inc())
	}

	now := time.Now().UTC()
	if rec.TriggeredAt.IsZero() {
		rec.TriggeredAt = now
	}

	alert := sos.Alert{
		Record:         rec,
		AlertStatus:    sos.AlertPending,
		ReceivedAt:     now,
		ClientRecordID: clientRecordID,
		Urgency:        sos.UrgencyFor(rec.Type),
	}

	stored, added := h.deps.Alerts.Add(alert)
	if !added {
		h.logger.Info("Duplicate SOS suppressed",
			"id", stored.ID, "clientRecordId", clientRecordID)
		return stored, false, nil
	}

	h.logger.Info("SOS alert accepted",
		"id", stored.ID, "type", string(stored.Type), "vessel", stored.Origin.VesselID)

	data, err := streaming.Wrap(streaming.TypeNewSOS, streaming.NewSOSPayload{
		Alert:   stored,
		Urgency: stored.Urgency,
		At:      now,
	})
	if err == nil {
		delivered := h.broadcastToMonitors(data)
		if len(delivered) > 0 {
			h.deps.Alerts.MarkDelivered(stored.ID, delivered...)
		}
	}
	return stored, true, nil
}

// SetStatus updates an alert's response state and broadcasts the
// change to every connected client, vessels included.
func (h *Hub) SetStatus(id string, status sos.AlertStatus, by string) (sos.Alert, bool) {
	alert, ok := h.deps.Alerts.SetStatus(id, status, by, time.Now().UTC())
	if !ok {
		return alert, false
	}

	h.logger.Info("Alert status updated",
		"id", id, "status", string(status), "by", by)

	data, err := streaming.Wrap(streaming.TypeStatusUpdated, streaming.StatusUpdatedPayload{Alert: alert})
	if err == nil {
		h.broadcastAll(data)
	}
	return alert, true
}

// ─── Fan-out ────────────────────────────────────────────────────────

// broadcastToMonitors returns the actor ids that actually took the
// message; a full buffer means that monitor must catch up via replay.
func (h *Hub) broadcastToMonitors(data []byte) []string {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.monitors))
	for _, s := range h.monitors {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := make([]string, 0, len(targets))
	for _, s := range targets {
		if s.enqueue(data) {
			delivered = append(delivered, s.Actor().ID)
		}
	}
	return delivered
}

func (h *Hub) broadcastAll(data []byte) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.isRegistered() {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(data)
	}
}

func (h *Hub) broadcastUsersCount() {
	data, err := streaming.Wrap(streaming.TypeUsersCount, h.Counts())
	if err != nil {
		return
	}
	h.broadcastAll(data)
}
