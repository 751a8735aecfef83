package engine

import "github.com/coastalguard/beacon/pkg/sos"

// EventKind tags engine lifecycle notifications.
type EventKind string

const (
	EventQueued         EventKind = "sos_queued"
	EventSending        EventKind = "sos_sending"
	EventDelivered      EventKind = "sos_delivered"
	EventCached         EventKind = "sos_cached"
	EventFailed         EventKind = "sos_failed"
	EventChannelsProbed EventKind = "channels_probed"
)

// Event carries an engine state change to subscribers. Record is set
// for per-record events, Channels for probe sweeps.
type Event struct {
	Kind     EventKind
	Record   *sos.Record
	Channels map[string]bool
}
