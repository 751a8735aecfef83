package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/coastalguard/beacon/pkg/sos"
)

// SatelliteConfig tunes the simulated satellite SMS gateway. In a real
// deployment Transmit is replaced with an Iridium SBD or INMARSAT-C
// modem call; the contract stays the same.
type SatelliteConfig struct {
	SignalRate      float64       // fraction of probes that see a signal
	SuccessRate     float64       // uplink success with a strong signal
	TransmitDelay   time.Duration // base uplink latency
	TransmitTimeout time.Duration
	GroundStation   string // coast guard ground station number
	MaxMessageLen   int    // SMS character limit

	// Rand overrides the entropy source; tests pass a seeded one.
	Rand *rand.Rand
}

type forwardEntry struct {
	payload       string
	queuedAt      time.Time
	forwardedAt   time.Time
	groundStation string
	signalBars    int
}

// Satellite is a store-and-forward SMS channel over a satellite modem.
// Second in failover order; it works out of cell coverage but drops
// the payload to a compact SMS.
type Satellite struct {
	cfg   SatelliteConfig
	stats stats

	mu         sync.Mutex
	rng        *rand.Rand
	signalBars int
	forwarded  map[string]forwardEntry
}

// NewSatellite creates the satellite channel.
func NewSatellite(cfg SatelliteConfig) *Satellite {
	if cfg.SignalRate <= 0 {
		cfg.SignalRate = 0.7
	}
	if cfg.SuccessRate <= 0 {
		cfg.SuccessRate = 0.85
	}
	if cfg.TransmitDelay <= 0 {
		cfg.TransmitDelay = 3 * time.Second
	}
	if cfg.TransmitTimeout <= 0 {
		cfg.TransmitTimeout = 10 * time.Second
	}
	if cfg.GroundStation == "" {
		cfg.GroundStation = "+918001234567"
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = 160
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Satellite{
		cfg:       cfg,
		stats:     newStats(),
		rng:       rng,
		forwarded: make(map[string]forwardEntry),
	}
}

func (c *Satellite) Name() string  { return "satellite" }
func (c *Satellite) Priority() int { return 2 }

func (c *Satellite) roll() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Float64()
}

// checkSignal samples the modem. Signal bars run 0 (no lock) to 4.
func (c *Satellite) checkSignal() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rng.Float64() < c.cfg.SignalRate {
		c.signalBars = 2 + c.rng.Intn(3)
	} else {
		c.signalBars = 0
	}
	return c.signalBars
}

// Probe samples satellite visibility. Signal windows come and go as
// satellites pass overhead, so back-to-back probes can disagree.
func (c *Satellite) Probe(_ context.Context) (Availability, error) {
	if c.checkSignal() >= 2 {
		c.stats.setStatus(Available)
		return Available, nil
	}
	c.stats.setStatus(Unavailable)
	return Unavailable, nil
}

// Transmit compresses the record to an SMS and forwards it to the
// ground station.
func (c *Satellite) Transmit(ctx context.Context, rec *sos.Record) (*Receipt, error) {
	start := time.Now()

	compressed := sos.EncodeCompact(rec)
	if len(compressed) > c.cfg.MaxMessageLen {
		c.stats.recordTransmit(false)
		return nil, fmt.Errorf("satellite transmit: payload exceeds %d char SMS limit", c.cfg.MaxMessageLen)
	}

	bars := c.checkSignal()
	if bars == 0 {
		c.stats.setStatus(Unavailable)
		return nil, fmt.Errorf("%w: no satellite signal, modem reports 0 bars", ErrUnavailable)
	}

	// Uplink latency runs seconds, bounded by the transmit timeout.
	latency := c.cfg.TransmitDelay + time.Duration(c.roll()*float64(5*time.Second))
	if latency > c.cfg.TransmitTimeout {
		latency = c.cfg.TransmitTimeout
	}
	if err := sleep(ctx, latency); err != nil {
		c.stats.recordTransmit(false)
		return nil, fmt.Errorf("satellite transmit: %w", err)
	}

	// A weak lock halves the odds of the uplink holding.
	successRate := c.cfg.SuccessRate
	if bars < 3 {
		successRate = 0.5
	}
	if c.roll() >= successRate {
		c.stats.recordTransmit(false)
		return nil, fmt.Errorf("satellite transmit: uplink failed, signal degraded during transmission")
	}

	now := time.Now().UTC()
	messageID := fmt.Sprintf("SAT-%d-%04x", now.UnixMilli(), c.rng.Intn(0x10000))

	c.mu.Lock()
	c.forwarded[messageID] = forwardEntry{
		payload:       compressed,
		queuedAt:      start.UTC(),
		forwardedAt:   now,
		groundStation: c.cfg.GroundStation,
		signalBars:    bars,
	}
	c.mu.Unlock()
	c.stats.recordTransmit(true)

	return &Receipt{
		MessageID: messageID,
		LatencyMs: time.Since(start).Milliseconds(),
		Meta: map[string]string{
			"mode":             "store-and-forward",
			"signalBars":       fmt.Sprintf("%d", bars),
			"compressedLength": fmt.Sprintf("%d", len(compressed)),
			"groundStation":    c.cfg.GroundStation,
		},
	}, nil
}

// QueryStatus reports whether the ground station holds the message.
func (c *Satellite) QueryStatus(_ context.Context, messageID string) (*DeliveryStatus, error) {
	c.mu.Lock()
	entry, ok := c.forwarded[messageID]
	c.mu.Unlock()
	if !ok {
		return &DeliveryStatus{Delivered: false}, nil
	}
	at := entry.forwardedAt
	return &DeliveryStatus{
		Delivered: true,
		Timestamp: &at,
		Detail:    "forwarded to ground station " + entry.groundStation,
	}, nil
}

func (c *Satellite) Health() Health {
	return c.stats.health(c.Name(), c.Priority())
}
