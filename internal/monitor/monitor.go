// Package monitor tracks shore connectivity from the vessel. It
// heartbeats the relay on an interval and tells the delivery engine
// when the link comes back so cached records flush immediately instead
// of waiting out the retry tick.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coastalguard/beacon/internal/channel"
	"github.com/coastalguard/beacon/internal/logging"
	"github.com/coastalguard/beacon/internal/transport"
)

// State is the vessel's overall view of shore connectivity.
type State string

const (
	Online   State = "online"
	Degraded State = "degraded" // reachable but unreliable or slow
	Offline  State = "offline"
)

// Snapshot is a point-in-time connectivity report.
type Snapshot struct {
	State               State           `json:"state"`
	LatencyMs           *int64          `json:"latencyMs,omitempty"`
	LastHeartbeat       *time.Time      `json:"lastHeartbeat,omitempty"`
	Channels            map[string]bool `json:"channels"`
	AnyChannelAvailable bool            `json:"anyChannelAvailable"`
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	LogManager *logging.SlogManager
	Registry   *transport.Registry

	HeartbeatURL    string
	Interval        time.Duration
	Timeout         time.Duration
	DegradedLatency time.Duration

	// HTTPClient overrides the heartbeat client; tests inject one.
	HTTPClient *http.Client
}

// Service runs the periodic heartbeat and fans state changes out to
// subscribers.
type Service struct {
	deps      Dependencies
	client    *http.Client
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	wg        sync.WaitGroup

	state         State
	latencyMs     *int64
	lastHeartbeat *time.Time
	channelStatus map[string]bool

	subMu       sync.Mutex
	subscribers []*channel.Buffered[Snapshot]
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 15 * time.Second
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 5 * time.Second
	}
	if deps.DegradedLatency <= 0 {
		deps.DegradedLatency = 5 * time.Second
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: deps.Timeout}
	}

	status := make(map[string]bool)
	if deps.Registry != nil {
		for _, ch := range deps.Registry.Ordered() {
			status[ch.Name()] = false
		}
	}

	return &Service{
		deps:          deps,
		client:        client,
		stopChan:      make(chan struct{}),
		state:         Offline,
		channelStatus: status,
	}
}

// IsRunning returns whether the heartbeat loop is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Start launches the heartbeat loop. Safe to call once.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Initial check so consumers never see a stale Offline.
		s.heartbeatCheck(ctx)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.heartbeatCheck(ctx)
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the heartbeat loop and waits for it to exit.
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

// heartbeatCheck verifies actual reachability with a HEAD request. A
// vessel can hold a WiFi association with no WAN behind it, so a
// cheap real request beats trusting the interface state.
func (s *Service) heartbeatCheck(ctx context.Context) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
	defer cancel()

	var newState State
	var latency *int64

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, s.deps.HeartbeatURL, nil)
	if err == nil {
		var resp *http.Response
		resp, err = s.client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
	}

	now := time.Now().UTC()
	if err != nil {
		newState = Offline
	} else {
		ms := time.Since(start).Milliseconds()
		latency = &ms
		if time.Duration(ms)*time.Millisecond > s.deps.DegradedLatency {
			newState = Degraded
		} else {
			newState = Online
		}
	}

	s.mu.Lock()
	prev := s.state
	s.state = newState
	s.latencyMs = latency
	if err == nil {
		s.lastHeartbeat = &now
	}
	s.channelStatus["internet"] = err == nil
	s.mu.Unlock()

	if prev != newState {
		if s.deps.LogManager != nil {
			s.deps.LogManager.Logger().Info("Connectivity state changed",
				"from", string(prev), "to", string(newState))
		}
		s.notify()
	}
}

// UpdateChannelStatus records a channel probe result. The engine calls
// this after each probe sweep.
func (s *Service) UpdateChannelStatus(name string, available bool) {
	s.mu.Lock()
	_, known := s.channelStatus[name]
	if known {
		s.channelStatus[name] = available
	}
	s.mu.Unlock()
}

// GetState returns the current connectivity snapshot.
func (s *Service) GetState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() Snapshot {
	channels := make(map[string]bool, len(s.channelStatus))
	any := false
	for name, ok := range s.channelStatus {
		channels[name] = ok
		any = any || ok
	}
	return Snapshot{
		State:               s.state,
		LatencyMs:           s.latencyMs,
		LastHeartbeat:       s.lastHeartbeat,
		Channels:            channels,
		AnyChannelAvailable: any,
	}
}

// BestChannel returns the highest-priority channel currently believed
// available, or "".
func (s *Service) BestChannel() string {
	if s.deps.Registry == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.deps.Registry.Ordered() {
		if s.channelStatus[ch.Name()] {
			return ch.Name()
		}
	}
	return ""
}

// ForceCheck runs a heartbeat immediately and returns the result.
func (s *Service) ForceCheck(ctx context.Context) Snapshot {
	s.heartbeatCheck(ctx)
	return s.GetState()
}

// Subscribe returns a channel of state-change snapshots and an
// unsubscribe func. Slow subscribers drop updates rather than block
// the heartbeat loop.
func (s *Service) Subscribe() (<-chan Snapshot, func()) {
	sub := channel.NewBuffered[Snapshot](8)

	s.subMu.Lock()
	s.subscribers = append(s.subscribers, sub)
	s.subMu.Unlock()

	// Prime with the current state so subscribers need no extra fetch.
	sub.TrySend(s.GetState())

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

func (s *Service) notify() {
	snap := s.GetState()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subscribers {
		sub.TrySend(snap)
	}
}
