package transport

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/coastalguard/beacon/pkg/sos"
)

// AISConfig tunes the simulated AIS transponder. A real deployment
// swaps Transmit for NMEA sentences over the transponder's serial port;
// the broadcast is picked up by every coast guard receiver in range.
type AISConfig struct {
	MMSI             string  // maritime mobile service identity
	SuccessRate      float64 // transponder TX success
	VHFChannel       int     // DSC distress channel
	BroadcastRangeNM int

	Rand *rand.Rand
}

type broadcastEntry struct {
	text        string
	broadcastAt time.Time
	mmsi        string
}

// AIS broadcasts a safety message over VHF. Last resort: it needs no
// shore link at all, only the transponder hardware, but delivery to a
// specific receiver can never be confirmed.
type AIS struct {
	cfg   AISConfig
	stats stats

	mu         sync.Mutex
	rng        *rand.Rand
	connected  bool
	broadcasts map[string]broadcastEntry
}

// NewAIS creates the AIS channel.
func NewAIS(cfg AISConfig) *AIS {
	if cfg.MMSI == "" {
		cfg.MMSI = "419000000"
	}
	if cfg.SuccessRate <= 0 {
		cfg.SuccessRate = 0.95
	}
	if cfg.VHFChannel == 0 {
		cfg.VHFChannel = 70
	}
	if cfg.BroadcastRangeNM == 0 {
		cfg.BroadcastRangeNM = 20
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &AIS{
		cfg:        cfg,
		stats:      newStats(),
		rng:        rng,
		connected:  true,
		broadcasts: make(map[string]broadcastEntry),
	}
}

func (c *AIS) Name() string  { return "ais" }
func (c *AIS) Priority() int { return 3 }

// SetTransponderConnected simulates unplugging the transponder.
func (c *AIS) SetTransponderConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
}

func (c *AIS) transponderConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Probe checks the transponder. Onboard hardware is normally always
// on, unlike the satellite window.
func (c *AIS) Probe(_ context.Context) (Availability, error) {
	if c.transponderConnected() {
		c.stats.setStatus(Available)
		return Available, nil
	}
	c.stats.setStatus(Unavailable)
	return Unavailable, nil
}

// Transmit broadcasts an AIS message 14 plus a DSC alert on the
// distress channel.
func (c *AIS) Transmit(ctx context.Context, rec *sos.Record) (*Receipt, error) {
	start := time.Now()

	if !c.transponderConnected() {
		c.stats.setStatus(Unavailable)
		return nil, fmt.Errorf("%w: ais transponder not connected", ErrUnavailable)
	}

	text := c.buildDistressText(rec)

	// VHF transmission is fast, under a second.
	c.mu.Lock()
	delay := 300*time.Millisecond + time.Duration(c.rng.Float64()*float64(700*time.Millisecond))
	success := c.rng.Float64() < c.cfg.SuccessRate
	c.mu.Unlock()
	if err := sleep(ctx, delay); err != nil {
		c.stats.recordTransmit(false)
		return nil, fmt.Errorf("ais transmit: %w", err)
	}

	if !success {
		c.stats.recordTransmit(false)
		return nil, fmt.Errorf("ais transmit: transponder TX failure, antenna issue")
	}

	now := time.Now().UTC()
	messageID := fmt.Sprintf("AIS-%d-%s", now.UnixMilli(), lastN(c.cfg.MMSI, 4))

	c.mu.Lock()
	c.broadcasts[messageID] = broadcastEntry{
		text:        text,
		broadcastAt: now,
		mmsi:        c.cfg.MMSI,
	}
	c.mu.Unlock()
	c.stats.recordTransmit(true)

	return &Receipt{
		MessageID: messageID,
		LatencyMs: time.Since(start).Milliseconds(),
		Meta: map[string]string{
			"mode":           "broadcast",
			"mmsi":           c.cfg.MMSI,
			"vhfChannel":     fmt.Sprintf("%d", c.cfg.VHFChannel),
			"broadcastRange": fmt.Sprintf("%d NM", c.cfg.BroadcastRangeNM),
			"aisMessageType": "14",
		},
	}, nil
}

// QueryStatus can only confirm the transponder transmitted; broadcasts
// carry no per-receiver acknowledgement.
func (c *AIS) QueryStatus(_ context.Context, messageID string) (*DeliveryStatus, error) {
	c.mu.Lock()
	entry, ok := c.broadcasts[messageID]
	c.mu.Unlock()
	if !ok {
		return &DeliveryStatus{Delivered: false}, nil
	}
	at := entry.broadcastAt
	return &DeliveryStatus{
		Delivered: true,
		Timestamp: &at,
		Detail:    "broadcast; delivery to specific receivers cannot be confirmed",
	}, nil
}

func (c *AIS) Health() Health {
	return c.stats.health(c.Name(), c.Priority())
}

// buildDistressText renders the voice-procedure text carried in the
// safety broadcast.
func (c *AIS) buildDistressText(rec *sos.Record) string {
	nature := "MAYDAY"
	if rec.Type != sos.TypeDistress {
		nature = "SECURITE"
	}
	utc := rec.TriggeredAt.UTC().Format("150405")
	return fmt.Sprintf("%s %s %s THIS IS %s MMSI %s IN POSITION %s %s AT %sUTC REQUIRE IMMEDIATE ASSISTANCE %s OVER",
		nature, nature, nature,
		rec.Origin.VesselID, c.cfg.MMSI,
		formatAISCoord(rec.Position.Lat, true),
		formatAISCoord(rec.Position.Lng, false),
		utc, strings.ToUpper(rec.Origin.DisplayName))
}

// formatAISCoord renders DDMM.MMMM[N|S] / DDDMM.MMMM[E|W].
func formatAISCoord(value float64, isLat bool) string {
	dir := "E"
	degWidth := 3
	if isLat {
		degWidth = 2
		if value >= 0 {
			dir = "N"
		} else {
			dir = "S"
		}
	} else if value < 0 {
		dir = "W"
	}
	abs := math.Abs(value)
	deg := int(abs)
	min := (abs - float64(deg)) * 60
	return fmt.Sprintf("%0*d%07.4f%s", degWidth, deg, min, dir)
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
