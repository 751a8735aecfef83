package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextHandler_InjectsDynamicAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	monitors := 0
	logger := slog.New(NewContextHandler(inner, func() []slog.Attr {
		return []slog.Attr{slog.Int("monitors", monitors)}
	}))

	logger.Info("alert accepted")
	monitors = 3
	logger.Info("alert accepted")

	output := buf.String()
	assert.Contains(t, output, "monitors=0")
	assert.Contains(t, output, "monitors=3", "provider is consulted per record")
}

func TestContextHandler_NilProvider(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, nil)

	logger := slog.New(NewContextHandler(inner, nil))
	logger.Info("plain record")

	assert.Contains(t, buf.String(), "plain record")
}

func TestContextHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, nil)

	h := NewContextHandler(inner, func() []slog.Attr {
		return []slog.Attr{slog.String("vessel", "TN-07-1234")}
	})

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("component", "relay")}).WithGroup("room"))
	logger.Info("joined", "role", "monitor")

	output := buf.String()
	assert.Contains(t, output, "component=relay")
	assert.Contains(t, output, "room.role=monitor")
}
