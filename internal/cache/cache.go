// Package cache holds the relay's hot state: active alerts for
// instant replay to late-joining monitors, and last-seen vessel
// positions. Latency here matters; a monitor connecting during an
// incident must get the backlog without a database round trip.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/coastalguard/beacon/pkg/sos"
)

// AlertCache caches alerts keyed by relay id, with a secondary index
// on the vessel's own record id for dedup across channels: the same
// SOS arriving over REST and again over the websocket must surface
// exactly once.
type AlertCache struct {
	m          sync.Mutex
	alerts     map[string]sos.Alert
	byClientID map[string]string
	lastSeen   map[string]time.Time // per monitor actor, survives reconnects
	limit      int
}

// NewAlertCache creates a cache bounded to limit resolved alerts.
func NewAlertCache(limit int) *AlertCache {
	if limit <= 0 {
		limit = 100
	}
	return &AlertCache{
		alerts:     make(map[string]sos.Alert),
		byClientID: make(map[string]string),
		lastSeen:   make(map[string]time.Time),
		limit:      limit,
	}
}

// Add inserts an alert. Returns the stored alert and false when the
// id or client record id was already present.
func (c *AlertCache) Add(alert sos.Alert) (sos.Alert, bool) {
	c.m.Lock()
	defer c.m.Unlock()

	if existing, ok := c.alerts[alert.ID]; ok {
		return existing, false
	}
	if alert.ClientRecordID != "" {
		if id, ok := c.byClientID[alert.ClientRecordID]; ok {
			return c.alerts[id], false
		}
	}

	c.alerts[alert.ID] = alert
	if alert.ClientRecordID != "" {
		c.byClientID[alert.ClientRecordID] = alert.ID
	}
	c.trimResolved()
	return alert, true
}

// Get returns the alert with the given relay id.
func (c *AlertCache) Get(id string) (sos.Alert, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	a, ok := c.alerts[id]
	return a, ok
}

// GetByClientID resolves a vessel-side record id to its alert.
func (c *AlertCache) GetByClientID(clientID string) (sos.Alert, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	id, ok := c.byClientID[clientID]
	if !ok {
		return sos.Alert{}, false
	}
	a, ok := c.alerts[id]
	return a, ok
}

// SetStatus moves an alert through pending → acknowledged → resolved.
// Going straight to resolved is allowed; moving backwards is not.
func (c *AlertCache) SetStatus(id string, status sos.AlertStatus, by string, at time.Time) (sos.Alert, bool) {
	c.m.Lock()
	defer c.m.Unlock()

	a, ok := c.alerts[id]
	if !ok {
		return sos.Alert{}, false
	}
	if rank(status) <= rank(a.AlertStatus) {
		return a, false
	}

	a.AlertStatus = status
	switch status {
	case sos.AlertAcknowledged:
		a.AcknowledgedAt = &at
		a.AcknowledgedBy = by
	case sos.AlertResolved:
		a.ResolvedAt = &at
		a.ResolvedBy = by
		if a.AcknowledgedAt == nil {
			a.AcknowledgedAt = &at
			a.AcknowledgedBy = by
		}
	}
	c.alerts[id] = a
	c.trimResolved()
	return a, true
}

// MarkDelivered records which monitor actors have seen the alert.
func (c *AlertCache) MarkDelivered(id string, actorIDs ...string) {
	c.m.Lock()
	defer c.m.Unlock()
	a, ok := c.alerts[id]
	if !ok {
		return
	}
	seen := make(map[string]bool, len(a.DeliveredTo))
	for _, s := range a.DeliveredTo {
		seen[s] = true
	}
	for _, s := range actorIDs {
		if !seen[s] {
			a.DeliveredTo = append(a.DeliveredTo, s)
			seen[s] = true
		}
	}
	c.alerts[id] = a
}

// MarkSeen records the point up to which a monitor actor is caught up.
// Set on disconnect so a reconnecting monitor is only replayed alerts
// that arrived while it was away.
func (c *AlertCache) MarkSeen(actorID string, at time.Time) {
	if actorID == "" {
		return
	}
	c.m.Lock()
	defer c.m.Unlock()
	if at.After(c.lastSeen[actorID]) {
		c.lastSeen[actorID] = at
	}
}

// LastSeenAt returns the recorded catch-up point for a monitor actor.
func (c *AlertCache) LastSeenAt(actorID string) (time.Time, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	at, ok := c.lastSeen[actorID]
	return at, ok
}

// Active returns unresolved alerts, newest first.
func (c *AlertCache) Active() []sos.Alert {
	return c.list(func(a sos.Alert) bool { return a.AlertStatus != sos.AlertResolved })
}

// All returns every cached alert, newest first.
func (c *AlertCache) All() []sos.Alert {
	return c.list(func(sos.Alert) bool { return true })
}

// MissedSince returns unresolved alerts the given monitor actor has not
// yet received, oldest first so replay preserves the original order. An
// actor with no recorded catch-up point gets the full unresolved backlog.
func (c *AlertCache) MissedSince(actorID string) []sos.Alert {
	c.m.Lock()
	seen := c.lastSeen[actorID]
	c.m.Unlock()

	missed := c.list(func(a sos.Alert) bool {
		if a.AlertStatus == sos.AlertResolved {
			return false
		}
		if !a.ReceivedAt.After(seen) {
			return false
		}
		for _, s := range a.DeliveredTo {
			if s == actorID {
				return false
			}
		}
		return true
	})
	// list() is newest-first; replay wants chronological order.
	for i, j := 0, len(missed)-1; i < j; i, j = i+1, j-1 {
		missed[i], missed[j] = missed[j], missed[i]
	}
	return missed
}

// Len returns the number of cached alerts.
func (c *AlertCache) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.alerts)
}

func (c *AlertCache) list(keep func(sos.Alert) bool) []sos.Alert {
	c.m.Lock()
	defer c.m.Unlock()
	out := make([]sos.Alert, 0, len(c.alerts))
	for _, a := range c.alerts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out
}

// trimResolved evicts the oldest resolved alerts past the limit.
// Unresolved alerts are never evicted. Callers hold c.m.
func (c *AlertCache) trimResolved() {
	var resolved []sos.Alert
	for _, a := range c.alerts {
		if a.AlertStatus == sos.AlertResolved {
			resolved = append(resolved, a)
		}
	}
	excess := len(resolved) - c.limit
	if excess <= 0 {
		return
	}
	sort.Slice(resolved, func(i, j int) bool {
		return resolved[i].ReceivedAt.Before(resolved[j].ReceivedAt)
	})
	for _, a := range resolved[:excess] {
		delete(c.alerts, a.ID)
		if a.ClientRecordID != "" {
			delete(c.byClientID, a.ClientRecordID)
		}
	}
}

func rank(s sos.AlertStatus) int {
	switch s {
	case sos.AlertPending:
		return 0
	case sos.AlertAcknowledged:
		return 1
	case sos.AlertResolved:
		return 2
	}
	return -1
}

// LastSeen is a vessel's most recent reported position.
type LastSeen struct {
	VesselID  string       `json:"vesselId"`
	SessionID string       `json:"sessionId"`
	Position  sos.Position `json:"position"`
	At        time.Time    `json:"at"`
}

// LastSeenCache tracks the latest position ping per vessel.
type LastSeenCache struct {
	m         sync.Mutex
	positions map[string]LastSeen
}

func NewLastSeenCache() *LastSeenCache {
	return &LastSeenCache{positions: make(map[string]LastSeen)}
}

// Update stores the newest position for a vessel.
func (c *LastSeenCache) Update(entry LastSeen) {
	c.m.Lock()
	defer c.m.Unlock()
	c.positions[entry.VesselID] = entry
}

// Get returns the last seen entry for a vessel.
func (c *LastSeenCache) Get(vesselID string) (LastSeen, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	e, ok := c.positions[vesselID]
	return e, ok
}

// All returns every tracked vessel position.
func (c *LastSeenCache) All() []LastSeen {
	c.m.Lock()
	defer c.m.Unlock()
	out := make([]LastSeen, 0, len(c.positions))
	for _, e := range c.positions {
		out = append(out, e)
	}
	return out
}

// Prune drops entries older than the cutoff and reports how many went.
func (c *LastSeenCache) Prune(cutoff time.Time) int {
	c.m.Lock()
	defer c.m.Unlock()
	n := 0
	for id, e := range c.positions {
		if e.At.Before(cutoff) {
			delete(c.positions, id)
			n++
		}
	}
	return n
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Inc() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v++
	return c.v
}
