// Package memstore implements store.Store with mutex-guarded maps.
// It honors the full state machine but not the durability guarantee,
// so it serves tests and relayd's ephemeral mode only.
package memstore

import (
	"sort"
	"sync"
	"time"

	"github.com/coastalguard/beacon/internal/store"
	"github.com/coastalguard/beacon/pkg/sos"
)

// Store is an in-memory store.Store.
type Store struct {
	mu           sync.Mutex
	records      map[string]*sos.Record
	order        []string // insertion order, for FIFO scans
	seq          int64
	historyLimit int
}

// New creates an empty in-memory store. historyLimit bounds how many
// terminal records are retained; 0 means the default of 100.
func New(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Store{
		records:      make(map[string]*sos.Record),
		historyLimit: historyLimit,
	}
}

func (s *Store) Enqueue(intent sos.Intent) (*sos.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.seq++

	rec := &sos.Record{
		ID:          store.FormatID(now, s.seq),
		Type:        intent.Type,
		Origin:      intent.Origin,
		Position:    intent.Position,
		Status:      sos.StatusQueued,
		TriggeredAt: now,
		CachedAt:    now,
		Delivery:    sos.Delivery{History: []sos.Attempt{}},
	}

	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	s.trimTerminal()

	out := cloneRecord(rec)
	return out, nil
}

func (s *Store) RecordAttempt(id string, attempt sos.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}

	rec.Delivery.History = append(rec.Delivery.History, attempt)
	at := attempt.At
	rec.Delivery.LastAttemptAt = &at
	if !attempt.Synthetic {
		rec.Delivery.Attempts++
	}
	if attempt.Outcome == sos.OutcomeDelivered {
		rec.Delivery.Channel = attempt.Channel
	}
	return nil
}

func (s *Store) Transition(id string, newStatus sos.Status, extra *store.TransitionExtra) (*sos.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := store.CheckTransition(rec.Status, newStatus); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec.Status = newStatus
	switch newStatus {
	case sos.StatusCached:
		rec.CachedAt = now
	case sos.StatusDelivered:
		rec.DeliveredAt = &now
		if extra != nil {
			rec.Delivery.Channel = extra.Channel
			rec.Delivery.TransportMessageID = extra.TransportMessageID
		}
	}

	return cloneRecord(rec), nil
}

func (s *Store) ListPending() ([]*sos.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*sos.Record
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		switch rec.Status {
		case sos.StatusQueued, sos.StatusCached, sos.StatusSending:
			out = append(out, cloneRecord(rec))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TriggeredAt.Before(out[j].TriggeredAt)
	})
	return out, nil
}

func (s *Store) GetAll() ([]*sos.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*sos.Record, 0, len(s.order))
	for _, id := range s.order {
		if rec, ok := s.records[id]; ok {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (s *Store) GetByID(id string) (*sos.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Store) Stats() (store.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats store.QueueStats
	for _, rec := range s.records {
		switch rec.Status {
		case sos.StatusQueued:
			stats.Pending++
		case sos.StatusSending:
			stats.Sending++
		case sos.StatusCached:
			stats.Cached++
		case sos.StatusDelivered:
			stats.Delivered++
		case sos.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *Store) SetResponse(id string, acknowledgedAt, resolvedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	if acknowledgedAt != nil {
		rec.AcknowledgedAt = acknowledgedAt
	}
	if resolvedAt != nil {
		rec.ResolvedAt = resolvedAt
	}
	return nil
}

func (s *Store) RecoverInflight() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := time.Now().UTC()
	for _, rec := range s.records {
		if rec.Status == sos.StatusSending {
			rec.Status = sos.StatusCached
			rec.CachedAt = now
			n++
		}
	}
	return n, nil
}

func (s *Store) Close() error { return nil }

// trimTerminal drops the oldest terminal records beyond the history
// limit. Pending records are never dropped. Caller holds the lock.
func (s *Store) trimTerminal() {
	terminal := 0
	for _, id := range s.order {
		if rec, ok := s.records[id]; ok && rec.Status.Terminal() {
			terminal++
		}
	}
	if terminal <= s.historyLimit {
		return
	}

	var keep []string
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if terminal > s.historyLimit && rec.Status.Terminal() {
			delete(s.records, id)
			terminal--
			continue
		}
		keep = append(keep, id)
	}
	s.order = keep
}

func cloneRecord(rec *sos.Record) *sos.Record {
	out := *rec
	out.Delivery.History = append([]sos.Attempt(nil), rec.Delivery.History...)
	return &out
}
