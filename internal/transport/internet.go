package transport

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/coastalguard/beacon/internal/api"
	"github.com/coastalguard/beacon/pkg/sos"
)

// InternetConfig tunes the primary channel.
type InternetConfig struct {
	ProbeTimeout    time.Duration
	TransmitTimeout time.Duration
}

// Internet delivers over mobile data or shore WiFi by POSTing the full
// record to the relay. Fastest channel, first in failover order.
type Internet struct {
	client *api.Client
	cfg    InternetConfig
	stats  stats

	mu        sync.Mutex
	delivered map[string]time.Time
}

// NewInternet creates the internet channel on top of a relay client.
func NewInternet(client *api.Client, cfg InternetConfig) *Internet {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if cfg.TransmitTimeout <= 0 {
		cfg.TransmitTimeout = 8 * time.Second
	}
	return &Internet{
		client:    client,
		cfg:       cfg,
		stats:     newStats(),
		delivered: make(map[string]time.Time),
	}
}

func (c *Internet) Name() string  { return "internet" }
func (c *Internet) Priority() int { return 1 }

// Probe pings the relay health endpoint. A reachable but unhealthy
// relay counts as degraded, not down; the transmit may still land.
func (c *Internet) Probe(ctx context.Context) (Availability, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	if err := c.client.Healthcheck(ctx); err != nil {
		if ctx.Err() != nil {
			c.stats.setStatus(Unavailable)
			return Unavailable, nil
		}
		c.stats.setStatus(Degraded)
		return Degraded, nil
	}
	c.stats.setStatus(Available)
	return Available, nil
}

// Transmit delivers the record to the relay REST API.
func (c *Internet) Transmit(ctx context.Context, rec *sos.Record) (*Receipt, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TransmitTimeout)
	defer cancel()

	resp, err := c.client.SubmitSOS(ctx, api.SubmitFromRecord(rec))
	if err != nil {
		c.stats.recordTransmit(false)
		return nil, fmt.Errorf("internet transmit: %w", err)
	}
	c.stats.recordTransmit(true)

	messageID := resp.SOSID
	if messageID == "" {
		messageID = fmt.Sprintf("NET-%d", time.Now().UnixMilli())
	}

	c.mu.Lock()
	c.delivered[messageID] = time.Now().UTC()
	c.mu.Unlock()

	return &Receipt{
		MessageID: messageID,
		LatencyMs: time.Since(start).Milliseconds(),
		Meta: map[string]string{
			"mode":       "rest",
			"receivedAt": resp.ReceivedAt,
			"duplicate":  strconv.FormatBool(resp.Duplicate),
		},
	}, nil
}

// QueryStatus confirms a transmit from the local delivery log; the
// relay already acked synchronously during Transmit.
func (c *Internet) QueryStatus(_ context.Context, messageID string) (*DeliveryStatus, error) {
	c.mu.Lock()
	at, ok := c.delivered[messageID]
	c.mu.Unlock()
	if !ok {
		return &DeliveryStatus{Delivered: false}, nil
	}
	return &DeliveryStatus{Delivered: true, Timestamp: &at, Detail: "acked by relay"}, nil
}

func (c *Internet) Health() Health {
	return c.stats.health(c.Name(), c.Priority())
}
