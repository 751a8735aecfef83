package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func TestSetup_WritesConsoleAndFile(t *testing.T) {
	readStdout := captureStdout(t)

	var fileBuf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&fileBuf, "info", nil)
	m.Logger().Info("SOS queued", "id", "SOS-20260828-0001")

	stdout := readStdout()

	assert.Contains(t, fileBuf.String(), "SOS queued", "log should land in the file")
	assert.Contains(t, stdout, "SOS queued", "console always mirrors the log")
}

func TestSetup_NoFile_ConsoleOnly(t *testing.T) {
	readStdout := captureStdout(t)

	m := NewSlogManager()
	m.Setup(nil, "info", nil)
	m.Logger().Info("channel probe failed", "channel", "satellite")

	assert.Contains(t, readStdout(), "channel probe failed")
}

func TestSetup_DebugLevel(t *testing.T) {
	defer captureStdout(t)()

	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&buf, "debug", nil)

	m.Logger().Debug("probing ais")
	m.Logger().Info("record cached")

	output := buf.String()
	assert.Contains(t, output, "probing ais")
	assert.Contains(t, output, "record cached")
}

func TestSetup_InfoLevel_FiltersDebug(t *testing.T) {
	defer captureStdout(t)()

	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&buf, "info", nil)

	m.Logger().Debug("transmit attempt detail")
	m.Logger().Info("record delivered")

	output := buf.String()
	assert.NotContains(t, output, "transmit attempt detail")
	assert.Contains(t, output, "record delivered")
}

func TestSetup_ReplacesLogger(t *testing.T) {
	defer captureStdout(t)()

	var buf1, buf2 bytes.Buffer
	m := NewSlogManager()

	m.Setup(&buf1, "info", nil)
	m.Logger().Info("first session")

	m.Setup(&buf2, "info", nil)
	m.Logger().Info("second session")

	assert.Contains(t, buf1.String(), "first session")
	assert.NotContains(t, buf1.String(), "second session", "old file must not receive new logs")
	assert.Contains(t, buf2.String(), "second session")
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	m := NewSlogManager()
	assert.Equal(t, slog.Default(), m.Logger())
}

func TestFlush_NilProvider(t *testing.T) {
	m := NewSlogManager()
	assert.NoError(t, m.Flush(context.Background()))
}

func TestFlush_WithProvider(t *testing.T) {
	defer captureStdout(t)()

	provider := sdklog.NewLoggerProvider() // no exporter, just the non-nil path
	m := NewSlogManager()

	var buf bytes.Buffer
	m.Setup(&buf, "info", provider)

	assert.NoError(t, m.Flush(context.Background()))
}

func TestWriteLog_AllLevels(t *testing.T) {
	levels := []string{"debug", "info", "warn", "error", "unknown"}

	for _, level := range levels {
		t.Run(level, func(t *testing.T) {
			defer captureStdout(t)()

			var buf bytes.Buffer
			m := NewSlogManager()
			m.Setup(&buf, "debug", nil)

			m.WriteLog("TriggerSOS", level+" delivery note", level)

			output := buf.String()
			assert.Contains(t, output, level+" delivery note")
			assert.Contains(t, output, "TriggerSOS")
		})
	}
}

func TestWriteLog_NilLogger(t *testing.T) {
	m := NewSlogManager()
	// Must not panic before Setup.
	m.WriteLog("TriggerSOS", "queued", "info")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestSetup_WithOTelProvider(t *testing.T) {
	defer captureStdout(t)()

	provider := sdklog.NewLoggerProvider()

	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&buf, "info", provider)

	m.Logger().Info("uplink reconnected")
	assert.Contains(t, buf.String(), "uplink reconnected")
}

func TestMultiHandler_FansOut(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h1 := slog.NewTextHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelInfo})
	h2 := slog.NewTextHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(h1, h2))
	logger.Info("alert accepted")

	assert.Contains(t, buf1.String(), "alert accepted")
	assert.Contains(t, buf2.String(), "alert accepted")
}

func TestMultiHandler_FiltersNilHandlers(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, nil)

	multi := NewMultiHandler(nil, h, nil)
	require.Len(t, multi.handlers, 1)

	slog.New(multi).Info("still logs")
	assert.Contains(t, buf.String(), "still logs")
}

func TestMultiHandler_Enabled(t *testing.T) {
	infoHandler := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo})
	debugHandler := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug})

	infoOnly := NewMultiHandler(infoHandler)
	assert.False(t, infoOnly.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, infoOnly.Enabled(context.Background(), slog.LevelInfo))

	// Any handler accepting the level enables it for the group.
	both := NewMultiHandler(infoHandler, debugHandler)
	assert.True(t, both.Enabled(context.Background(), slog.LevelDebug))
}

func TestMultiHandler_Empty(t *testing.T) {
	multi := NewMultiHandler()
	assert.False(t, multi.Enabled(context.Background(), slog.LevelInfo))
}

func TestMultiHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(h).WithAttrs([]slog.Attr{slog.String("component", "engine")}))
	logger.Info("retry pass")

	assert.Contains(t, buf.String(), "component=engine")
}

func TestMultiHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(h).WithGroup("delivery"))
	logger.Info("attempt recorded", "channel", "ais")

	assert.Contains(t, buf.String(), "delivery.channel=ais")
}

func TestMultiHandler_WithGroupEmpty(t *testing.T) {
	multi := NewMultiHandler(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Equal(t, multi, multi.WithGroup(""), "empty group name returns the same handler")
}

// failingHandler always errors from Handle.
type failingHandler struct {
	slog.Handler
}

func (h *failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("handler error")
}

func (h *failingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func TestMultiHandler_KeepsGoingAfterHandlerError(t *testing.T) {
	var buf bytes.Buffer
	healthy := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(&failingHandler{}, healthy))
	logger.Info("must reach the healthy handler")

	assert.Contains(t, buf.String(), "must reach the healthy handler")
}

// captureStdout redirects the console handler's writer to a pipe and
// returns a function that restores it and yields what was captured.
func captureStdout(t *testing.T) func() string {
	t.Helper()

	r, w, err := osPipe()
	require.NoError(t, err)

	orig := osStdout
	osStdout = w

	return func() string {
		w.Close()
		osStdout = orig
		var buf bytes.Buffer
		buf.ReadFrom(r)
		r.Close()
		return buf.String()
	}
}
