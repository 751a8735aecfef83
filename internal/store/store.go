// Package store defines the persistence port for the delivery engine:
// the durable, at-least-once record of every SOS from creation to
// terminal state.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/coastalguard/beacon/pkg/sos"
)

var (
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("sos record not found")

	// ErrInvalidTransition is returned when a status change violates
	// the state machine. The record is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TransitionExtra carries the delivery outcome fields set together
// with a transition to Delivered.
type TransitionExtra struct {
	Channel            string
	TransportMessageID string
}

// QueueStats summarizes the queue for status display.
type QueueStats struct {
	Pending   int `json:"pending"` // status queued
	Sending   int `json:"sending"`
	Cached    int `json:"cached"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Store is the durable record of every SOS. Implementations must make
// Enqueue durable before returning (enqueue-before-send) and must apply
// RecordAttempt/Transition atomically.
type Store interface {
	// Enqueue assigns an id, sets status queued, persists durably and
	// returns the record. Ids are sortable (date + sequence) and never
	// reused.
	Enqueue(intent sos.Intent) (*sos.Record, error)

	// RecordAttempt appends to the delivery history. Non-synthetic
	// attempts increment the attempts counter; a delivered outcome also
	// sets the winning channel.
	RecordAttempt(id string, attempt sos.Attempt) error

	// Transition moves a record to newStatus, enforcing the state
	// machine. Returns ErrInvalidTransition for illegal moves.
	Transition(id string, newStatus sos.Status, extra *TransitionExtra) (*sos.Record, error)

	// ListPending returns all records in {queued, cached, sending} in
	// FIFO order by trigger time: the retry candidate set.
	ListPending() ([]*sos.Record, error)

	GetAll() ([]*sos.Record, error)
	GetByID(id string) (*sos.Record, error)
	Stats() (QueueStats, error)

	// SetResponse records a monitor action (acknowledge/resolve) pushed
	// back from the relay. Allowed on terminal records.
	SetResponse(id string, acknowledgedAt, resolvedAt *time.Time) error

	// RecoverInflight flips records stranded in sending (crash during a
	// delivery pass) back to cached so the retry loop picks them up.
	// Called once at startup before the engine runs.
	RecoverInflight() (int, error)

	Close() error
}

// legalTransitions is the state machine: delivered and failed are
// terminal. Queued→cached is the pure retry-scan pass that skips
// sending; queued→failed covers a record that exhausted its retries
// without ever leaving the queue.
var legalTransitions = map[sos.Status][]sos.Status{
	sos.StatusQueued:  {sos.StatusSending, sos.StatusCached, sos.StatusFailed},
	sos.StatusSending: {sos.StatusDelivered, sos.StatusCached},
	sos.StatusCached:  {sos.StatusSending, sos.StatusFailed},
}

// CheckTransition returns ErrInvalidTransition if from→to is not legal.
func CheckTransition(from, to sos.Status) error {
	for _, allowed := range legalTransitions[from] {
		if to == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// FormatID renders a record id from its trigger date and sequence number.
func FormatID(at time.Time, seq int64) string {
	return fmt.Sprintf("SOS-%s-%04d", at.UTC().Format("20060102"), seq)
}
