package store

import (
	"errors"
	"testing"
	"time"

	"github.com/coastalguard/beacon/pkg/sos"
)

func TestCheckTransition(t *testing.T) {
	legal := []struct{ from, to sos.Status }{
		{sos.StatusQueued, sos.StatusSending},
		{sos.StatusQueued, sos.StatusCached},
		{sos.StatusQueued, sos.StatusFailed},
		{sos.StatusSending, sos.StatusDelivered},
		{sos.StatusSending, sos.StatusCached},
		{sos.StatusCached, sos.StatusSending},
		{sos.StatusCached, sos.StatusFailed},
	}
	for _, tt := range legal {
		if err := CheckTransition(tt.from, tt.to); err != nil {
			t.Errorf("CheckTransition(%s, %s) = %v, want nil", tt.from, tt.to, err)
		}
	}

	illegal := []struct{ from, to sos.Status }{
		{sos.StatusDelivered, sos.StatusQueued},
		{sos.StatusDelivered, sos.StatusSending},
		{sos.StatusFailed, sos.StatusCached},
		{sos.StatusQueued, sos.StatusDelivered}, // must pass through sending
		{sos.StatusSending, sos.StatusQueued},
		{sos.StatusCached, sos.StatusDelivered},
	}
	for _, tt := range illegal {
		err := CheckTransition(tt.from, tt.to)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("CheckTransition(%s, %s) = %v, want ErrInvalidTransition", tt.from, tt.to, err)
		}
	}
}

func TestFormatID(t *testing.T) {
	at := time.Date(2026, 8, 15, 4, 30, 0, 0, time.UTC)
	if got := FormatID(at, 7); got != "SOS-20260815-0007" {
		t.Errorf("FormatID = %q", got)
	}
	if got := FormatID(at, 12345); got != "SOS-20260815-12345" {
		t.Errorf("FormatID wide seq = %q", got)
	}
}
