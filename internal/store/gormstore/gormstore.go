// Package gormstore implements store.Store on a GORM database: SQLite
// on vessels (crash-safe WAL file), Postgres for shore installations.
// Every write happens in a transaction so a crash never leaves a record
// with a half-applied attempt or transition.
package gormstore

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/coastalguard/beacon/internal/geo"
	"github.com/coastalguard/beacon/internal/model"
	"github.com/coastalguard/beacon/internal/store"
	"github.com/coastalguard/beacon/pkg/sos"
)

const idSequence = "sos_id"

// Config holds gormstore settings.
type Config struct {
	// HistoryLimit bounds retained terminal records; 0 means 100.
	HistoryLimit int
}

// Store is a durable store.Store.
type Store struct {
	db  *gorm.DB
	cfg Config
}

// New creates a store on an already-connected, already-migrated database.
func New(db *gorm.DB, cfg Config) *Store {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	return &Store{db: db, cfg: cfg}
}

// Enqueue durably writes the record before returning; the caller may
// not attempt delivery until this has succeeded.
func (s *Store) Enqueue(intent sos.Intent) (*sos.Record, error) {
	if err := geo.Validate(intent.Position); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	now := time.Now().UTC()
	var rec *sos.Record

	err := s.db.Transaction(func(tx *gorm.DB) error {
		seq, err := nextSequence(tx, idSequence)
		if err != nil {
			return err
		}

		rec = &sos.Record{
			ID:          store.FormatID(now, seq),
			Type:        intent.Type,
			Origin:      intent.Origin,
			Position:    intent.Position,
			Status:      sos.StatusQueued,
			TriggeredAt: now,
			CachedAt:    now,
			Delivery:    sos.Delivery{History: []sos.Attempt{}},
		}

		wkb, err := geo.MarshalWKB(intent.Position)
		if err != nil {
			return err
		}

		row := model.FromDomain(rec, wkb)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("persisting record: %w", err)
		}
		return s.trimTerminal(tx)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) RecordAttempt(id string, attempt sos.Attempt) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var row model.SOSRecord
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return mapNotFound(err)
		}

		attemptRow := model.AttemptFromDomain(id, &attempt)
		if err := tx.Create(&attemptRow).Error; err != nil {
			return fmt.Errorf("persisting attempt: %w", err)
		}

		updates := map[string]any{"last_attempt_at": attempt.At}
		if !attempt.Synthetic {
			updates["attempts"] = row.Attempts + 1
		}
		if attempt.Outcome == sos.OutcomeDelivered {
			updates["channel"] = attempt.Channel
		}
		return tx.Model(&model.SOSRecord{}).Where("id = ?", id).Updates(updates).Error
	})
}

func (s *Store) Transition(id string, newStatus sos.Status, extra *store.TransitionExtra) (*sos.Record, error) {
	var out *sos.Record

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row model.SOSRecord
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return mapNotFound(err)
		}
		if err := store.CheckTransition(sos.Status(row.Status), newStatus); err != nil {
			return err
		}

		now := time.Now().UTC()
		updates := map[string]any{"status": string(newStatus)}
		switch newStatus {
		case sos.StatusCached:
			updates["cached_at"] = now
		case sos.StatusDelivered:
			updates["delivered_at"] = now
			if extra != nil {
				updates["channel"] = extra.Channel
				updates["transport_message_id"] = extra.TransportMessageID
			}
		}

		if err := tx.Model(&model.SOSRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("applying transition: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out, err = s.GetByID(id)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListPending() ([]*sos.Record, error) {
	var rows []model.SOSRecord
	err := s.db.
		Where("status IN ?", []string{
			string(sos.StatusQueued),
			string(sos.StatusCached),
			string(sos.StatusSending),
		}).
		Order("triggered_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return s.assemble(rows)
}

func (s *Store) GetAll() ([]*sos.Record, error) {
	var rows []model.SOSRecord
	if err := s.db.Order("triggered_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return s.assemble(rows)
}

func (s *Store) GetByID(id string) (*sos.Record, error) {
	var row model.SOSRecord
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		return nil, mapNotFound(err)
	}

	attempts, err := s.attemptsFor(id)
	if err != nil {
		return nil, err
	}
	return model.ToDomain(&row, attempts), nil
}

func (s *Store) Stats() (store.QueueStats, error) {
	type statusCount struct {
		Status string
		N      int
	}
	var counts []statusCount
	err := s.db.Model(&model.SOSRecord{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return store.QueueStats{}, err
	}

	var stats store.QueueStats
	for _, c := range counts {
		switch sos.Status(c.Status) {
		case sos.StatusQueued:
			stats.Pending = c.N
		case sos.StatusSending:
			stats.Sending = c.N
		case sos.StatusCached:
			stats.Cached = c.N
		case sos.StatusDelivered:
			stats.Delivered = c.N
		case sos.StatusFailed:
			stats.Failed = c.N
		}
	}
	return stats, nil
}

func (s *Store) SetResponse(id string, acknowledgedAt, resolvedAt *time.Time) error {
	updates := map[string]any{}
	if acknowledgedAt != nil {
		updates["acknowledged_at"] = *acknowledgedAt
	}
	if resolvedAt != nil {
		updates["resolved_at"] = *resolvedAt
	}
	if len(updates) == 0 {
		return nil
	}

	res := s.db.Model(&model.SOSRecord{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RecoverInflight() (int, error) {
	res := s.db.Model(&model.SOSRecord{}).
		Where("status = ?", string(sos.StatusSending)).
		Updates(map[string]any{
			"status":    string(sos.StatusCached),
			"cached_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) assemble(rows []model.SOSRecord) ([]*sos.Record, error) {
	out := make([]*sos.Record, 0, len(rows))
	for i := range rows {
		attempts, err := s.attemptsFor(rows[i].ID)
		if err != nil {
			return nil, err
		}
		out = append(out, model.ToDomain(&rows[i], attempts))
	}
	return out, nil
}

func (s *Store) attemptsFor(id string) ([]model.AttemptRecord, error) {
	var attempts []model.AttemptRecord
	err := s.db.
		Where("record_id = ?", id).
		Order("id asc").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

// trimTerminal deletes the oldest terminal records (and their attempt
// rows) beyond the history limit. Pending records are never dropped.
func (s *Store) trimTerminal(tx *gorm.DB) error {
	terminalStatuses := []string{string(sos.StatusDelivered), string(sos.StatusFailed)}

	var count int64
	if err := tx.Model(&model.SOSRecord{}).Where("status IN ?", terminalStatuses).Count(&count).Error; err != nil {
		return err
	}
	excess := int(count) - s.cfg.HistoryLimit
	if excess <= 0 {
		return nil
	}

	var victims []string
	err := tx.Model(&model.SOSRecord{}).
		Where("status IN ?", terminalStatuses).
		Order("triggered_at asc").
		Limit(excess).
		Pluck("id", &victims).Error
	if err != nil {
		return err
	}

	if err := tx.Where("record_id IN ?", victims).Delete(&model.AttemptRecord{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", victims).Delete(&model.SOSRecord{}).Error
}

// nextSequence bumps and returns the named monotonic counter.
func nextSequence(tx *gorm.DB, name string) (int64, error) {
	var seq model.Sequence
	err := tx.Where("name = ?", name).First(&seq).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		seq = model.Sequence{Name: name, Value: 1}
		if err := tx.Create(&seq).Error; err != nil {
			return 0, fmt.Errorf("creating sequence: %w", err)
		}
		return 1, nil
	case err != nil:
		return 0, err
	}

	seq.Value++
	if err := tx.Save(&seq).Error; err != nil {
		return 0, fmt.Errorf("bumping sequence: %w", err)
	}
	return seq.Value, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}
