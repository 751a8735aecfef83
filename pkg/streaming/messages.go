// Package streaming defines the wire contract between relay clients
// (vessels, monitors, the delivery engine's uplink) and the relay server.
package streaming

import (
	"encoding/json"
	"time"

	"github.com/coastalguard/beacon/pkg/sos"
)

// Message type constants matching the relay protocol.
const (
	// Client → server.
	TypeRegister     = "register"
	TypeSubmitSOS    = "sos_submit"
	TypeUpdateStatus = "sos_update_status"
	TypeLocationPing = "location_ping"
	TypePing         = "ping_check"

	// Server → client.
	TypeRegistered    = "registered"
	TypeNewSOS        = "sos_new"
	TypeMissedSOS     = "sos_missed"
	TypeStatusUpdated = "sos_updated"
	TypeSubmitAck     = "sos_ack"
	TypeUsersCount    = "users_count"
	TypeLocation      = "location_updated"
	TypePong          = "pong_check"
	TypeError         = "error"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Wrap marshals a payload into an Envelope and returns its JSON encoding.
func Wrap(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// AckMessage is the server's acknowledgement response for messages
// that require confirmed receipt.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
	ID   string `json:"id,omitempty"`
}

// RegisterPayload binds a connection to an actor identity and role.
type RegisterPayload struct {
	ActorID     string   `json:"actorId"`
	Role        sos.Role `json:"role"`
	DisplayName string   `json:"displayName"`
	VesselID    string   `json:"vesselId,omitempty"`
}

// RegisteredPayload confirms registration and reports online counts.
type RegisteredPayload struct {
	OK        bool        `json:"ok"`
	SessionID string      `json:"sessionId"`
	Error     string      `json:"error,omitempty"`
	Counts    OnlineCount `json:"counts"`
}

// OnlineCount reports connected clients per audience group.
type OnlineCount struct {
	Monitors int `json:"monitors"`
	Senders  int `json:"senders"`
}

// SubmitPayload carries a record into the relay. ClientRecordID is the
// vessel-side queue id, used to deduplicate the direct uplink path
// against the REST fallback path.
type SubmitPayload struct {
	Record         sos.Record `json:"record"`
	ClientRecordID string     `json:"clientRecordId,omitempty"`
}

// SubmitAckPayload is returned to the submitting sender.
type SubmitAckPayload struct {
	RecordID       string    `json:"recordId"`
	ClientRecordID string    `json:"clientRecordId,omitempty"`
	ReceivedAt     time.Time `json:"receivedAt"`
	MonitorsOnline int       `json:"monitorsOnline"`
}

// NewSOSPayload broadcasts a newly accepted alert to monitors.
type NewSOSPayload struct {
	Alert   sos.Alert   `json:"alert"`
	Urgency sos.Urgency `json:"urgency"`
	At      time.Time   `json:"at"`
}

// MissedSOSPayload replays alerts a monitor missed while disconnected.
type MissedSOSPayload struct {
	Alerts []sos.Alert `json:"alerts"`
	Count  int         `json:"count"`
}

// UpdateStatusPayload is a monitor action on an alert.
type UpdateStatusPayload struct {
	RecordID string          `json:"recordId"`
	Status   sos.AlertStatus `json:"status"`
}

// StatusUpdatedPayload broadcasts a response-state change to all parties.
type StatusUpdatedPayload struct {
	Alert sos.Alert `json:"alert"`
}

// LocationPingPayload is a best-effort vessel position update; the relay
// may drop these under load.
type LocationPingPayload struct {
	ActorID     string       `json:"actorId"`
	DisplayName string       `json:"displayName,omitempty"`
	VesselID    string       `json:"vesselId,omitempty"`
	Position    sos.Position `json:"position"`
	At          time.Time    `json:"at"`
}

// ErrorPayload reports a request-level failure to the client.
type ErrorPayload struct {
	Message string `json:"message"`
}

// PongPayload answers a latency check.
type PongPayload struct {
	ServerTime time.Time `json:"serverTime"`
}
