package sos

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Compact payload format for low-bandwidth channels (satellite SBD,
// AIS Message 14). Pipe-delimited, kept under 160 characters:
//
//	TYPE|ID|LAT|LNG|VESSEL|UNIX|NAME
//
// TYPE is "SOS" or "BDR". Coordinates are truncated to 4 decimal
// places (~11m), which is sufficient for search-and-rescue dispatch.

// CompactMessage is the decoded form of a compact payload.
type CompactMessage struct {
	Type     Type
	ID       string
	Lat      float64
	Lng      float64
	VesselID string
	At       time.Time
	Name     string
}

// EncodeCompact renders a record as a compact pipe-delimited payload.
func EncodeCompact(r *Record) string {
	typ := "SOS"
	if r.Type == TypeBoundary {
		typ = "BDR"
	}
	return strings.Join([]string{
		typ,
		r.ID,
		strconv.FormatFloat(r.Position.Lat, 'f', 4, 64),
		strconv.FormatFloat(r.Position.Lng, 'f', 4, 64),
		r.Origin.VesselID,
		strconv.FormatInt(r.TriggeredAt.Unix(), 10),
		r.Origin.DisplayName,
	}, "|")
}

// ParseCompact decodes a compact payload back into its fields.
// The name field may itself contain pipes, so everything after the
// sixth delimiter belongs to it.
func ParseCompact(s string) (CompactMessage, error) {
	var msg CompactMessage

	parts := strings.SplitN(s, "|", 7)
	if len(parts) < 6 {
		return msg, fmt.Errorf("compact payload has %d fields, want at least 6", len(parts))
	}

	switch parts[0] {
	case "SOS":
		msg.Type = TypeDistress
	case "BDR":
		msg.Type = TypeBoundary
	default:
		return msg, fmt.Errorf("unknown compact payload type %q", parts[0])
	}

	msg.ID = parts[1]

	lat, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return msg, fmt.Errorf("error converting latitude: %w", err)
	}
	msg.Lat = lat

	lng, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return msg, fmt.Errorf("error converting longitude: %w", err)
	}
	msg.Lng = lng

	msg.VesselID = parts[4]

	unix, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil {
		return msg, fmt.Errorf("error converting timestamp: %w", err)
	}
	msg.At = time.Unix(unix, 0).UTC()

	if len(parts) == 7 {
		msg.Name = parts[6]
	}

	return msg, nil
}
