// relayd is the shore-side relay: it accepts SOS traffic from vessels
// over websocket and REST, fans alerts out to coastal authority
// monitors, and replays missed alerts to monitors that reconnect.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/coastalguard/beacon/internal/cache"
	"github.com/coastalguard/beacon/internal/config"
	"github.com/coastalguard/beacon/internal/logging"
	intOtel "github.com/coastalguard/beacon/internal/otel"
	"github.com/coastalguard/beacon/internal/relay"
)

const serviceName = "relayd"

func main() {
	configDir := flag.String("config", ".", "directory containing config.json")
	flag.Parse()

	if err := run(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	if err := config.Load(configDir); err != nil {
		return err
	}

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	logPath := logging.LogFilePath(logsDir, serviceName, time.Now())
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	// Shore installations usually aggregate logs; GELF output joins
	// the log file when Graylog is configured.
	var logSink io.Writer = logFile
	if config.GetBool("graylog.enabled") {
		gelfWriter, err := gelf.NewWriter(config.GetString("graylog.address"))
		if err != nil {
			return fmt.Errorf("connecting to Graylog: %w", err)
		}
		gelfWriter.Facility = serviceName
		logSink = io.MultiWriter(logFile, gelfWriter)
	}

	var otelProvider *intOtel.Provider
	var logProvider *sdklog.LoggerProvider
	if config.GetBool("otel.enabled") {
		otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:     true,
			ServiceName: serviceName,
			LogWriter:   logFile,
			Endpoint:    config.GetString("otel.endpoint"),
			Insecure:    config.GetBool("otel.insecure"),
		})
		if err != nil {
			return fmt.Errorf("initializing OTel: %w", err)
		}
		logProvider = otelProvider.LoggerProvider()
	}

	logManager := logging.NewSlogManager()
	logManager.Setup(logSink, config.GetString("logLevel"), logProvider)
	logger := logManager.Logger()
	logger.Info("Starting", "service", serviceName, "log", logPath)

	hub, err := relay.NewHub(relay.Dependencies{
		LogManager: logManager,
		Alerts:     cache.NewAlertCache(config.GetInt("store.historyLimit")),
		LastSeen:   cache.NewLastSeenCache(),
	})
	if err != nil {
		return err
	}

	// Lifecycle logs carry the live room counts.
	logger = slog.New(logging.NewContextHandler(logger.Handler(), func() []slog.Attr {
		counts := hub.Counts()
		return []slog.Attr{
			slog.Int("monitors", counts.Monitors),
			slog.Int("senders", counts.Senders),
		}
	}))

	server := relay.NewServer(hub, relay.ServerConfig{
		ListenAddr: config.GetString("server.listenAddr"),
		Secret:     config.GetString("relay.secret"),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = server.Run(ctx)

	logger.Info("Shutting down")
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	_ = logManager.Flush(flushCtx)
	if otelProvider != nil {
		_ = otelProvider.Shutdown(flushCtx)
	}
	return err
}
