// Package engine orchestrates fault-tolerant SOS delivery. Every
// record is persisted before the first transmit, then walked through
// the channel priority chain with automatic failover; undeliverable
// records stay cached and are retried until delivery or the retry
// budget runs out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coastalguard/beacon/internal/channel"
	"github.com/coastalguard/beacon/internal/logging"
	"github.com/coastalguard/beacon/internal/monitor"
	"github.com/coastalguard/beacon/internal/store"
	"github.com/coastalguard/beacon/internal/transport"
	"github.com/coastalguard/beacon/pkg/sos"
)

// Dependencies holds all dependencies for the delivery engine
type Dependencies struct {
	LogManager *logging.SlogManager
	Store      store.Store
	Registry   *transport.Registry
	Monitor    *monitor.Service

	RetryInterval time.Duration // cadence for reprocessing the queue
	ProbeInterval time.Duration // cadence for channel availability sweeps
	MaxRetries    int           // spent transmits before a record fails
	EventBuffer   int
}

// Status is the engine summary served to dashboards and the CLI.
type Status struct {
	Running  bool             `json:"running"`
	Network  monitor.Snapshot `json:"network"`
	Channels []ChannelStatus  `json:"channels"`
	Queue    store.QueueStats `json:"queue"`
}

// ChannelStatus pairs cumulative health with the last probe verdict.
type ChannelStatus struct {
	transport.Health
	Available bool `json:"available"`
}

// Service is the delivery engine.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	wg        sync.WaitGroup

	// availability is the engine's own view from the last probe sweep.
	availability map[string]bool

	// inflight serializes delivery per record so the retry tick and a
	// connectivity flush never race on the same SOS.
	inflightMu sync.Mutex
	inflight   map[string]bool

	subMu       sync.Mutex
	subscribers []*channel.Buffered[Event]

	triggered  metric.Int64Counter
	attempts   metric.Int64Counter
	delivered  metric.Int64Counter
	failed     metric.Int64Counter
	queueDepth metric.Int64ObservableGauge
}

// NewService creates a new delivery engine.
// Uses the global OTel meter for metrics (no-op if not configured).
func NewService(deps Dependencies) (*Service, error) {
	if deps.RetryInterval <= 0 {
		deps.RetryInterval = 30 * time.Second
	}
	if deps.ProbeInterval <= 0 {
		deps.ProbeInterval = 10 * time.Second
	}
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = 20
	}
	if deps.EventBuffer <= 0 {
		deps.EventBuffer = 64
	}

	s := &Service{
		deps:         deps,
		stopChan:     make(chan struct{}),
		availability: make(map[string]bool),
		inflight:     make(map[string]bool),
	}
	for _, ch := range deps.Registry.Ordered() {
		s.availability[ch.Name()] = false
	}

	m := meter()
	var err error

	s.triggered, err = m.Int64Counter(
		"engine.sos.triggered",
		metric.WithDescription("Total SOS records enqueued"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating triggered counter: %w", err)
	}

	s.attempts, err = m.Int64Counter(
		"engine.delivery.attempts",
		metric.WithDescription("Delivery attempts by channel and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating attempts counter: %w", err)
	}

	s.delivered, err = m.Int64Counter(
		"engine.sos.delivered",
		metric.WithDescription("Total SOS records delivered"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating delivered counter: %w", err)
	}

	s.failed, err = m.Int64Counter(
		"engine.sos.failed",
		metric.WithDescription("Total SOS records that exhausted their retry budget"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	s.queueDepth, err = m.Int64ObservableGauge(
		"engine.queue.depth",
		metric.WithDescription("Records awaiting delivery"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			stats, err := s.deps.Store.Stats()
			if err != nil {
				return err
			}
			o.ObserveInt64(s.queueDepth, int64(stats.Pending+stats.Cached))
			return nil
		},
		s.queueDepth,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	return s, nil
}

func (s *Service) logger() *slog.Logger {
	return s.deps.LogManager.Logger()
}

// IsRunning returns whether the engine loops are running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Start recovers interrupted records, probes the channels, and begins
// the retry and probe loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	// Records stuck in sending from a previous run were interrupted
	// mid-transmit; put them back in line.
	recovered, err := s.deps.Store.RecoverInflight()
	if err != nil {
		return fmt.Errorf("recovering interrupted records: %w", err)
	}
	if recovered > 0 {
		s.logger().Info("Recovered interrupted SOS records", "count", recovered)
	}

	s.ProbeChannels(ctx)

	connectivity, unsubscribe := s.deps.Monitor.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()

		retryTicker := time.NewTicker(s.deps.RetryInterval)
		defer retryTicker.Stop()
		probeTicker := time.NewTicker(s.deps.ProbeInterval)
		defer probeTicker.Stop()

		for {
			select {
			case <-retryTicker.C:
				s.ProcessQueue(ctx)
			case <-probeTicker.C:
				s.ProbeChannels(ctx)
			case snap, ok := <-connectivity:
				if !ok {
					return
				}
				if snap.State != monitor.Offline || snap.AnyChannelAvailable {
					s.logger().Info("Connectivity restored, flushing SOS queue")
					s.ProcessQueue(ctx)
				}
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	// Flush anything cached from a previous session right away.
	if stats, err := s.deps.Store.Stats(); err == nil && stats.Pending+stats.Cached > 0 {
		s.logger().Info("Found cached SOS from previous session",
			"pending", stats.Pending, "cached", stats.Cached)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ProcessQueue(ctx)
		}()
	}

	return nil
}

// Stop halts the engine loops.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
}

// TriggerSOS is the main entry point. The record is persisted before
// any transmit is attempted, so a crash after this returns can never
// lose the distress call. Delivery is attempted inline; a false
// second return means the record is cached for retry, not lost.
func (s *Service) TriggerSOS(ctx context.Context, intent sos.Intent) (*sos.Record, bool, error) {
	rec, err := s.deps.Store.Enqueue(intent)
	if err != nil {
		return nil, false, fmt.Errorf("enqueueing SOS: %w", err)
	}
	s.triggered.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(rec.Type))))
	s.logger().Info("SOS triggered", "id", rec.ID, "type", string(rec.Type), "vessel", rec.Origin.VesselID)
	s.emit(Event{Kind: EventQueued, Record: rec})

	delivered := s.deliver(ctx, rec)

	final, err := s.deps.Store.GetByID(rec.ID)
	if err != nil {
		return rec, delivered, nil
	}
	return final, delivered, nil
}

// deliver walks the channel priority chain for one record. Returns
// true when some channel accepted the message.
func (s *Service) deliver(ctx context.Context, rec *sos.Record) bool {
	s.inflightMu.Lock()
	if s.inflight[rec.ID] {
		s.inflightMu.Unlock()
		return false
	}
	s.inflight[rec.ID] = true
	s.inflightMu.Unlock()
	defer func() {
		s.inflightMu.Lock()
		delete(s.inflight, rec.ID)
		s.inflightMu.Unlock()
	}()

	sending, err := s.deps.Store.Transition(rec.ID, sos.StatusSending, nil)
	if err != nil {
		// Already delivered or failed by another path; nothing to do.
		if !errors.Is(err, store.ErrInvalidTransition) {
			s.logger().Error("Marking SOS as sending failed", "id", rec.ID, "error", err)
		}
		return false
	}
	s.emit(Event{Kind: EventSending, Record: sending})

	for _, ch := range s.deps.Registry.Ordered() {
		if s.tryChannel(ctx, ch, sending) {
			return true
		}
	}

	// All channels failed; cache for the retry loop.
	cached, err := s.deps.Store.Transition(rec.ID, sos.StatusCached, nil)
	if err != nil {
		s.logger().Error("Caching SOS failed", "id", rec.ID, "error", err)
		return false
	}
	s.logger().Warn("All channels failed, SOS cached for retry", "id", rec.ID)
	s.emit(Event{Kind: EventCached, Record: cached})
	return false
}

// tryChannel probes and transmits on a single channel, recording the
// outcome either way.
func (s *Service) tryChannel(ctx context.Context, ch transport.Channel, rec *sos.Record) bool {
	name := ch.Name()

	avail, err := ch.Probe(ctx)
	usable := err == nil && avail != transport.Unavailable && avail != transport.Unknown
	s.setAvailability(name, usable)

	if !usable {
		// The channel never carried the message: logged for the
		// timeline, but not a spent transmit.
		s.recordAttempt(ctx, rec.ID, sos.Attempt{
			Channel:   name,
			Outcome:   sos.OutcomeFailed,
			At:        time.Now().UTC(),
			Error:     "channel unavailable",
			Synthetic: true,
		})
		return false
	}

	receipt, err := ch.Transmit(ctx, rec)
	if err != nil {
		attempt := sos.Attempt{
			Channel: name,
			Outcome: sos.OutcomeFailed,
			At:      time.Now().UTC(),
			Error:   err.Error(),
		}
		if errors.Is(err, transport.ErrUnavailable) {
			attempt.Synthetic = true
			s.setAvailability(name, false)
		}
		s.recordAttempt(ctx, rec.ID, attempt)
		s.logger().Warn("Channel transmit failed", "id", rec.ID, "channel", name, "error", err)
		return false
	}

	s.recordAttempt(ctx, rec.ID, sos.Attempt{
		Channel:   name,
		Outcome:   sos.OutcomeDelivered,
		At:        time.Now().UTC(),
		LatencyMs: receipt.LatencyMs,
		Meta:      receipt.Meta,
	})

	delivered, err := s.deps.Store.Transition(rec.ID, sos.StatusDelivered, &store.TransitionExtra{
		Channel:            name,
		TransportMessageID: receipt.MessageID,
	})
	if err != nil {
		s.logger().Error("Marking SOS as delivered failed", "id", rec.ID, "error", err)
		return true
	}

	s.delivered.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", name)))
	s.logger().Info("SOS delivered", "id", rec.ID, "channel", name, "messageId", receipt.MessageID)
	s.emit(Event{Kind: EventDelivered, Record: delivered})
	return true
}

func (s *Service) recordAttempt(ctx context.Context, id string, attempt sos.Attempt) {
	if err := s.deps.Store.RecordAttempt(id, attempt); err != nil {
		s.logger().Error("Recording delivery attempt failed", "id", id, "error", err)
	}
	s.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", attempt.Channel),
		attribute.String("outcome", string(attempt.Outcome)),
		attribute.Bool("synthetic", attempt.Synthetic),
	))
}

// ProcessQueue retries every pending record, failing those that have
// spent their retry budget. Runs on the retry tick and whenever
// connectivity returns.
func (s *Service) ProcessQueue(ctx context.Context) {
	pending, err := s.deps.Store.ListPending()
	if err != nil {
		s.logger().Error("Listing pending SOS failed", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	s.logger().Info("Processing SOS queue", "pending", len(pending))

	for _, rec := range pending {
		if ctx.Err() != nil {
			return
		}
		if rec.Delivery.Attempts >= s.deps.MaxRetries {
			failed, err := s.deps.Store.Transition(rec.ID, sos.StatusFailed, nil)
			if err != nil {
				s.logger().Error("Marking SOS as failed failed", "id", rec.ID, "error", err)
				continue
			}
			s.failed.Add(ctx, 1)
			s.logger().Error("SOS exceeded max retries", "id", rec.ID, "attempts", rec.Delivery.Attempts)
			s.emit(Event{Kind: EventFailed, Record: failed})
			continue
		}
		s.deliver(ctx, rec)
	}
}

// ProbeChannels sweeps every channel so availability is known before
// the next SOS, and feeds the monitor's per-channel view.
func (s *Service) ProbeChannels(ctx context.Context) {
	results := make(map[string]bool)
	for _, ch := range s.deps.Registry.Ordered() {
		avail, err := ch.Probe(ctx)
		usable := err == nil && avail != transport.Unavailable && avail != transport.Unknown
		s.setAvailability(ch.Name(), usable)
		results[ch.Name()] = usable
	}
	s.emit(Event{Kind: EventChannelsProbed, Channels: results})
}

func (s *Service) setAvailability(name string, available bool) {
	s.mu.Lock()
	s.availability[name] = available
	s.mu.Unlock()
	s.deps.Monitor.UpdateChannelStatus(name, available)
}

// GetStatus returns the engine summary for dashboards.
func (s *Service) GetStatus() (Status, error) {
	stats, err := s.deps.Store.Stats()
	if err != nil {
		return Status{}, fmt.Errorf("reading queue stats: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]ChannelStatus, 0, s.deps.Registry.Len())
	for _, h := range s.deps.Registry.Health() {
		channels = append(channels, ChannelStatus{
			Health:    h,
			Available: s.availability[h.Name],
		})
	}

	return Status{
		Running:  s.isRunning,
		Network:  s.deps.Monitor.GetState(),
		Channels: channels,
		Queue:    stats,
	}, nil
}

// GetDelivery returns the full record, history included.
func (s *Service) GetDelivery(id string) (*sos.Record, error) {
	return s.deps.Store.GetByID(id)
}

// Subscribe returns engine lifecycle events and an unsubscribe func.
// Slow subscribers drop events rather than block delivery.
func (s *Service) Subscribe() (<-chan Event, func()) {
	sub := channel.NewBuffered[Event](s.deps.EventBuffer)

	s.subMu.Lock()
	s.subscribers = append(s.subscribers, sub)
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, candidate := range s.subscribers {
			if candidate == sub {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				sub.Close()
				return
			}
		}
	}
	return sub.Receive(), cancel
}

func (s *Service) emit(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subscribers {
		sub.TrySend(ev)
	}
}
