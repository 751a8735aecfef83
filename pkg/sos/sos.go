// Package sos defines the domain types shared between the vessel-side
// delivery engine and the shore-side relay.
package sos

import "time"

// Status is the delivery lifecycle state of a record on the vessel side.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusDelivered Status = "delivered"
	StatusCached    Status = "cached" // all channels failed, waiting for retry
	StatusFailed    Status = "failed" // max retries exhausted
)

// Terminal reports whether the status admits no further delivery attempts.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Type distinguishes the trigger that produced a record.
type Type string

const (
	TypeDistress Type = "sos"
	TypeBoundary Type = "border"
)

// Role identifies which audience group a connected actor belongs to.
type Role string

const (
	RoleSender  Role = "sender"  // vessels
	RoleMonitor Role = "monitor" // coastal authorities
)

// Actor is the opaque identity handed to the core by the identity provider.
type Actor struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
	VesselID    string `json:"vesselId,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Position is a GPS fix, immutable once captured.
type Position struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	Heading  *float64 `json:"heading,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
}

// Outcome is the result of a single delivery attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

// Attempt is one entry in the append-only delivery audit trail.
// Synthetic attempts record a skipped channel (probe said unavailable,
// no transmit was made) and do not count toward Delivery.Attempts.
type Attempt struct {
	Channel   string            `json:"channel"`
	Outcome   Outcome           `json:"outcome"`
	At        time.Time         `json:"at"`
	Error     string            `json:"error,omitempty"`
	LatencyMs int64             `json:"latencyMs"`
	Synthetic bool              `json:"synthetic,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Delivery tracks progress of a record through the channel chain.
type Delivery struct {
	Channel            string     `json:"channel,omitempty"` // channel that succeeded
	TransportMessageID string     `json:"transportMessageId,omitempty"`
	Attempts           int        `json:"attempts"` // transmit attempts only
	LastAttemptAt      *time.Time `json:"lastAttemptAt,omitempty"`
	History            []Attempt  `json:"history"`
}

// Record is the central entity: one per triggered SOS intent.
type Record struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Origin      Actor     `json:"origin"`
	Position    Position  `json:"position"`
	Status      Status    `json:"status"`
	TriggeredAt time.Time `json:"triggeredAt"`
	CachedAt    time.Time `json:"cachedAt"`

	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`

	Delivery Delivery `json:"delivery"`
}

// Intent is the input to the delivery engine, produced by an actor action
// or by the geofencing collaborator (boundary warnings).
type Intent struct {
	Type     Type     `json:"type"`
	Origin   Actor    `json:"origin"`
	Position Position `json:"position"`
}

// AlertStatus is the relay-side response lifecycle, a separate axis
// from the vessel-side delivery status.
type AlertStatus string

const (
	AlertPending      AlertStatus = "pending"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Urgency classifies an alert for monitor display.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
)

// UrgencyFor maps a record type to its broadcast urgency.
func UrgencyFor(t Type) Urgency {
	if t == TypeDistress {
		return UrgencyCritical
	}
	return UrgencyHigh
}

// Alert is a record as held by the relay, carrying receipt bookkeeping
// and the monitor-driven response state.
type Alert struct {
	Record

	AlertStatus    AlertStatus `json:"alertStatus"`
	ReceivedAt     time.Time   `json:"receivedAt"`
	ClientRecordID string      `json:"clientRecordId,omitempty"`
	AcknowledgedBy string      `json:"acknowledgedBy,omitempty"`
	ResolvedBy     string      `json:"resolvedBy,omitempty"`
	Urgency        Urgency     `json:"urgency"`

	// Monitor actor IDs the initial broadcast reached (best-effort
	// receipt; replay covers any gap).
	DeliveredTo []string `json:"deliveredTo,omitempty"`
}
