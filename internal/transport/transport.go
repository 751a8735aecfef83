// Package transport holds the communication channels an SOS can leave
// the vessel on. Each channel reports availability, transmits a record,
// and answers delivery-status queries; the delivery engine walks them
// in priority order.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coastalguard/beacon/pkg/sos"
)

// Availability describes whether a channel can currently carry traffic.
type Availability string

const (
	Available   Availability = "available"
	Degraded    Availability = "degraded" // usable but slow or lossy
	Unavailable Availability = "unavailable"
	Unknown     Availability = "unknown"
)

// ErrUnavailable is returned by Transmit when the channel cannot carry
// the message at all. The engine records it as a synthetic attempt
// rather than a spent transmit.
var ErrUnavailable = errors.New("transport: channel unavailable")

// Receipt is the proof of a completed transmit.
type Receipt struct {
	MessageID string
	LatencyMs int64
	Meta      map[string]string
}

// DeliveryStatus answers a QueryStatus call for a prior transmit.
type DeliveryStatus struct {
	Delivered bool
	Timestamp *time.Time
	Detail    string
}

// Health is a point-in-time channel summary for diagnostics.
type Health struct {
	Name        string       `json:"name"`
	Priority    int          `json:"priority"`
	Status      Availability `json:"status"`
	LastChecked *time.Time   `json:"lastChecked,omitempty"`
	TotalSent   uint64       `json:"totalSent"`
	TotalFailed uint64       `json:"totalFailed"`
}

// Channel is a single way off the vessel. Implementations must be safe
// for concurrent use.
type Channel interface {
	// Name identifies the channel ("internet", "satellite", "ais").
	Name() string
	// Priority orders failover; lower is tried first.
	Priority() int
	// Probe checks whether the channel can currently transmit.
	Probe(ctx context.Context) (Availability, error)
	// Transmit sends the record. ErrUnavailable means the channel never
	// carried the message; any other error is a spent attempt.
	Transmit(ctx context.Context, rec *sos.Record) (*Receipt, error)
	// QueryStatus reports delivery state for a transmit's message id.
	QueryStatus(ctx context.Context, messageID string) (*DeliveryStatus, error)
	// Health returns cumulative counters and the last probe result.
	Health() Health
}

// stats carries the bookkeeping every channel shares.
type stats struct {
	mu          sync.Mutex
	status      Availability
	lastChecked time.Time
	sent        uint64
	failed      uint64
}

func newStats() stats {
	return stats{status: Unknown}
}

func (s *stats) setStatus(a Availability) {
	s.mu.Lock()
	s.status = a
	s.lastChecked = time.Now().UTC()
	s.mu.Unlock()
}

func (s *stats) recordTransmit(ok bool) {
	s.mu.Lock()
	s.sent++
	if !ok {
		s.failed++
	}
	s.lastChecked = time.Now().UTC()
	s.mu.Unlock()
}

func (s *stats) health(name string, priority int) Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := Health{
		Name:        name,
		Priority:    priority,
		Status:      s.status,
		TotalSent:   s.sent,
		TotalFailed: s.failed,
	}
	if !s.lastChecked.IsZero() {
		checked := s.lastChecked
		h.LastChecked = &checked
	}
	return h
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
