// beacond is the vessel-side daemon: it owns the persistent SOS queue,
// the channel chain, the connectivity monitor, and the delivery engine,
// and keeps a websocket uplink to the shore relay when one is reachable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/coastalguard/beacon/internal/api"
	"github.com/coastalguard/beacon/internal/config"
	"github.com/coastalguard/beacon/internal/control"
	"github.com/coastalguard/beacon/internal/database"
	"github.com/coastalguard/beacon/internal/engine"
	"github.com/coastalguard/beacon/internal/influx"
	"github.com/coastalguard/beacon/internal/logging"
	"github.com/coastalguard/beacon/internal/monitor"
	intOtel "github.com/coastalguard/beacon/internal/otel"
	"github.com/coastalguard/beacon/internal/store"
	"github.com/coastalguard/beacon/internal/store/factory"
	"github.com/coastalguard/beacon/internal/transport"
	"github.com/coastalguard/beacon/internal/uplink"
	"github.com/coastalguard/beacon/pkg/sos"
	"github.com/coastalguard/beacon/pkg/streaming"
)

const serviceName = "beacond"

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

	// OTel before logging so the slog bridge can attach.
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
	logManager.Setup(logFile, config.GetString("logLevel"), logProvider)
	logger := logManager.Logger()
	logger.Info("Starting", "service", serviceName, "log", logPath)

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	// Store: gorm-backed unless configured for memory.
	var dbm *database.Manager
	if config.GetString("store.type") != "memory" {
		dbm = database.NewManager(zlog)
		if err := dbm.Connect(); err != nil {
			return fmt.Errorf("connecting store database: %w", err)
		}
		if err := dbm.Setup(); err != nil {
			return fmt.Errorf("migrating store database: %w", err)
		}
	}
	st, err := factory.New(dbm)
	if err != nil {
		return err
	}

	// Channel chain in priority order.
	registry := transport.NewRegistry()
	relayClient := api.New(config.GetString("relay.url"), config.GetString("relay.secret"))
	if config.GetBool("channels.internet.enabled") {
		if err := registry.Register(transport.NewInternet(relayClient, transport.InternetConfig{
			ProbeTimeout:    config.GetDuration("channels.internet.probeTimeout"),
			TransmitTimeout: config.GetDuration("channels.internet.transmitTimeout"),
		})); err != nil {
			return err
		}
	}
	if config.GetBool("channels.satellite.enabled") {
		if err := registry.Register(transport.NewSatellite(transport.SatelliteConfig{
			SignalRate:      config.GetFloat("channels.satellite.signalRate"),
			SuccessRate:     config.GetFloat("channels.satellite.successRate"),
			TransmitDelay:   config.GetDuration("channels.satellite.transmitDelay"),
			TransmitTimeout: config.GetDuration("channels.satellite.transmitTimeout"),
			Rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
		})); err != nil {
			return err
		}
	}
	if config.GetBool("channels.ais.enabled") {
		if err := registry.Register(transport.NewAIS(transport.AISConfig{
			MMSI:        config.GetString("channels.ais.mmsi"),
			SuccessRate: config.GetFloat("channels.ais.successRate"),
			Rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		})); err != nil {
			return err
		}
	}

	mon := monitor.NewService(monitor.Dependencies{
		LogManager:      logManager,
		Registry:        registry,
		HeartbeatURL:    config.GetString("monitor.heartbeatUrl"),
		Interval:        config.GetDuration("monitor.interval"),
		Timeout:         config.GetDuration("monitor.timeout"),
		DegradedLatency: config.GetDuration("monitor.degradedLatency"),
	})

	eng, err := engine.NewService(engine.Dependencies{
		LogManager:    logManager,
		Store:         st,
		Registry:      registry,
		Monitor:       mon,
		RetryInterval: config.GetDuration("engine.retryInterval"),
		ProbeInterval: config.GetDuration("engine.probeInterval"),
		MaxRetries:    config.GetInt("engine.maxRetries"),
		EventBuffer:   config.GetInt("engine.eventBuffer"),
	})
	if err != nil {
		return err
	}

	// Delivery telemetry, best-effort.
	var telemetry *influx.Manager
	if config.GetBool("influx.enabled") {
		telemetry = influx.NewManager(zlog, filepath.Join(logsDir, "telemetry_backup.gz"))
		if err := telemetry.Connect(); err != nil {
			logger.Warn("Telemetry sink unavailable", "error", err)
			telemetry = nil
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mon.Start(ctx)
	if err := eng.Start(ctx); err != nil {
		return err
	}

	// Direct uplink to the relay. Failure here is not fatal: the
	// internet channel's REST path covers submission, and the uplink
	// keeps retrying on its own.
	var link *uplink.Client
	if wsURL := config.GetString("relay.wsUrl"); wsURL != "" {
		link = uplink.New(uplink.Config{
			URL:    wsURL,
			Secret: config.GetString("relay.secret"),
			Identity: streaming.RegisterPayload{
				ActorID:     config.GetString("vessel.actorId"),
				Role:        sos.RoleSender,
				DisplayName: config.GetString("vessel.name"),
				VesselID:    config.GetString("vessel.boatNumber"),
			},
		}, logger)
		link.OnStatusUpdate(func(alert sos.Alert) {
			logger.Info("Shore response update",
				"id", alert.ID, "status", string(alert.AlertStatus), "by", alert.AcknowledgedBy)
			if err := st.SetResponse(alert.ID, alert.AcknowledgedAt, alert.ResolvedAt); err != nil {
				logger.Debug("Response not recorded locally", "id", alert.ID, "error", err)
			}
		})
		go func() {
			if err := link.Connect(); err != nil {
				logger.Warn("Relay uplink unavailable", "error", err)
			}
		}()
	}

	// Local control surface: the wheelhouse UI raises the SOS and reads
	// engine status through it.
	ctl := control.NewServer(eng, logger.With("component", "control"), control.ServerConfig{
		ListenAddr: config.GetString("control.listenAddr"),
		Identity: sos.Actor{
			ID:          config.GetString("vessel.actorId"),
			Role:        sos.RoleSender,
			DisplayName: config.GetString("vessel.name"),
			VesselID:    config.GetString("vessel.boatNumber"),
			Phone:       config.GetString("vessel.phone"),
		},
	})
	ctlErr := make(chan error, 1)
	go func() { ctlErr <- ctl.Run(ctx) }()

	events, unsubscribe := eng.Subscribe()
	defer unsubscribe()
	go pumpEvents(ctx, events, link, telemetry, logger.With("component", "events"))

	if telemetry != nil {
		go sampleQueueDepth(ctx, st, telemetry)
	}

	logger.Info("Ready", "channels", registry.Len())
	select {
	case err := <-ctlErr:
		if err != nil {
			logger.Error("Control surface failed", "error", err)
		}
		cancel()
	case <-ctx.Done():
	}
	logger.Info("Shutting down")

	eng.Stop()
	mon.Stop()
	if link != nil {
		_ = link.Close()
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	_ = logManager.Flush(flushCtx)
	if otelProvider != nil {
		_ = otelProvider.Shutdown(flushCtx)
	}
	return nil
}

// pumpEvents mirrors engine lifecycle events to the relay uplink and
// the telemetry sink.
func pumpEvents(ctx context.Context, events <-chan engine.Event, link *uplink.Client, telemetry *influx.Manager, logger *slog.Logger) {
	for ev := range events {
		if ev.Record == nil {
			continue
		}

		// Queued records go up the direct socket too; the relay
		// deduplicates against the internet channel's REST submit.
		if ev.Kind == engine.EventQueued && link != nil {
			rec := *ev.Record
			go func() {
				if err := link.SubmitRecord(&rec); err != nil {
					logger.Warn("Uplink submit failed", "id", rec.ID, "error", err)
				}
			}()
		}

		if telemetry == nil {
			continue
		}
		switch ev.Kind {
		case engine.EventDelivered, engine.EventCached, engine.EventFailed:
			now := time.Now().UTC()
			_ = telemetry.WritePoint(ctx, influx.BucketDelivery, influx.StatusPoint(ev.Record, now))
			if n := len(ev.Record.Delivery.History); n > 0 {
				att := ev.Record.Delivery.History[n-1]
				_ = telemetry.WritePoint(ctx, influx.BucketDelivery, influx.AttemptPoint(ev.Record, att))
			}
		}
	}
}

// sampleQueueDepth writes queue gauges once a minute.
func sampleQueueDepth(ctx context.Context, st store.Store, telemetry *influx.Manager) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := st.Stats()
			if err != nil {
				continue
			}
			_ = telemetry.WritePoint(ctx, influx.BucketDelivery,
				influx.QueueDepthPoint(stats.Pending, stats.Cached, stats.Delivered, stats.Failed, time.Now().UTC()))
		}
	}
}
