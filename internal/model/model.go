// Package model defines the persisted (GORM) representation of SOS
// records and their delivery audit trail, plus converters to and from
// the domain types in pkg/sos.
package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/coastalguard/beacon/pkg/sos"
)

// SOSRecord is the durable row behind sos.Record. Attempt history lives
// in its own table (AttemptRecord) so appends never rewrite the record.
type SOSRecord struct {
	ID   string `json:"id" gorm:"primarykey"`
	Type string `json:"type"`

	// Origin identity, flattened.
	ActorID     string `json:"actorId" gorm:"index"`
	DisplayName string `json:"displayName"`
	VesselID    string `json:"vesselId"`
	Phone       string `json:"phone"`

	// Position, immutable once captured. PositionWKB holds the
	// EPSG:3857 point for spatial consumers (see internal/geo).
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Accuracy    *float64 `json:"accuracy"`
	Heading     *float64 `json:"heading"`
	Speed       *float64 `json:"speed"`
	PositionWKB []byte   `json:"-"`

	Status      string    `json:"status" gorm:"index"`
	TriggeredAt time.Time `json:"triggeredAt" gorm:"index"`
	CachedAt    time.Time `json:"cachedAt"`

	DeliveredAt    *time.Time `json:"deliveredAt"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt"`
	ResolvedAt     *time.Time `json:"resolvedAt"`

	// Delivery summary. Attempts counts transmits only.
	Channel            string     `json:"channel"`
	TransportMessageID string     `json:"transportMessageId"`
	Attempts           int        `json:"attempts"`
	LastAttemptAt      *time.Time `json:"lastAttemptAt"`
}

// AttemptRecord is one append-only row of the delivery audit trail.
type AttemptRecord struct {
	ID        uint           `json:"-" gorm:"primarykey;autoIncrement"`
	RecordID  string         `json:"recordId" gorm:"index"`
	Channel   string         `json:"channel"`
	Outcome   string         `json:"outcome"`
	At        time.Time      `json:"at"`
	Error     string         `json:"error"`
	LatencyMs int64          `json:"latencyMs"`
	Synthetic bool           `json:"synthetic"`
	Meta      datatypes.JSON `json:"-"`
}

// Sequence backs the monotonic id counter (never reused, survives restarts).
type Sequence struct {
	Name  string `gorm:"primarykey"`
	Value int64
}

// DatabaseModels lists every table managed by AutoMigrate.
var DatabaseModels = []any{
	&SOSRecord{},
	&AttemptRecord{},
	&Sequence{},
}

// FromDomain flattens a domain record into its persisted row.
// The attempt history is persisted separately.
func FromDomain(r *sos.Record, wkb []byte) SOSRecord {
	return SOSRecord{
		ID:          r.ID,
		Type:        string(r.Type),
		ActorID:     r.Origin.ID,
		DisplayName: r.Origin.DisplayName,
		VesselID:    r.Origin.VesselID,
		Phone:       r.Origin.Phone,
		Lat:         r.Position.Lat,
		Lng:         r.Position.Lng,
		Accuracy:    r.Position.Accuracy,
		Heading:     r.Position.Heading,
		Speed:       r.Position.Speed,
		PositionWKB: wkb,

		Status:      string(r.Status),
		TriggeredAt: r.TriggeredAt,
		CachedAt:    r.CachedAt,

		DeliveredAt:    r.DeliveredAt,
		AcknowledgedAt: r.AcknowledgedAt,
		ResolvedAt:     r.ResolvedAt,

		Channel:            r.Delivery.Channel,
		TransportMessageID: r.Delivery.TransportMessageID,
		Attempts:           r.Delivery.Attempts,
		LastAttemptAt:      r.Delivery.LastAttemptAt,
	}
}

// ToDomain reassembles a domain record from its row and attempt rows.
func ToDomain(row *SOSRecord, attempts []AttemptRecord) *sos.Record {
	rec := &sos.Record{
		ID:   row.ID,
		Type: sos.Type(row.Type),
		Origin: sos.Actor{
			ID:          row.ActorID,
			Role:        sos.RoleSender,
			DisplayName: row.DisplayName,
			VesselID:    row.VesselID,
			Phone:       row.Phone,
		},
		Position: sos.Position{
			Lat:      row.Lat,
			Lng:      row.Lng,
			Accuracy: row.Accuracy,
			Heading:  row.Heading,
			Speed:    row.Speed,
		},
		Status:      sos.Status(row.Status),
		TriggeredAt: row.TriggeredAt,
		CachedAt:    row.CachedAt,

		DeliveredAt:    row.DeliveredAt,
		AcknowledgedAt: row.AcknowledgedAt,
		ResolvedAt:     row.ResolvedAt,

		Delivery: sos.Delivery{
			Channel:            row.Channel,
			TransportMessageID: row.TransportMessageID,
			Attempts:           row.Attempts,
			LastAttemptAt:      row.LastAttemptAt,
			History:            make([]sos.Attempt, 0, len(attempts)),
		},
	}

	for _, a := range attempts {
		rec.Delivery.History = append(rec.Delivery.History, AttemptToDomain(&a))
	}
	return rec
}

// AttemptFromDomain flattens one attempt for persistence.
func AttemptFromDomain(recordID string, a *sos.Attempt) AttemptRecord {
	row := AttemptRecord{
		RecordID:  recordID,
		Channel:   a.Channel,
		Outcome:   string(a.Outcome),
		At:        a.At,
		Error:     a.Error,
		LatencyMs: a.LatencyMs,
		Synthetic: a.Synthetic,
	}
	if len(a.Meta) > 0 {
		if data, err := json.Marshal(a.Meta); err == nil {
			row.Meta = datatypes.JSON(data)
		}
	}
	return row
}

// AttemptToDomain reassembles one attempt from its row.
func AttemptToDomain(row *AttemptRecord) sos.Attempt {
	a := sos.Attempt{
		Channel:   row.Channel,
		Outcome:   sos.Outcome(row.Outcome),
		At:        row.At,
		Error:     row.Error,
		LatencyMs: row.LatencyMs,
		Synthetic: row.Synthetic,
	}
	if len(row.Meta) > 0 {
		var meta map[string]string
		if err := json.Unmarshal(row.Meta, &meta); err == nil {
			a.Meta = meta
		}
	}
	return a
}
