// Package monitor owns the lifecycle of every long-lived component: it wires
// them up in dependency order, supervises the pipeline and tears everything
// down in reverse order on shutdown.
package monitor

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/watchtowerhq/watchtower-go/internal/alerter"
	"github.com/watchtowerhq/watchtower-go/internal/camera"
	"github.com/watchtowerhq/watchtower-go/internal/conf"
	"github.com/watchtowerhq/watchtower-go/internal/datastore"
	"github.com/watchtowerhq/watchtower-go/internal/detector"
	"github.com/watchtowerhq/watchtower-go/internal/dispatch"
	"github.com/watchtowerhq/watchtower-go/internal/errors"
	"github.com/watchtowerhq/watchtower-go/internal/httpcontroller"
	"github.com/watchtowerhq/watchtower-go/internal/lock"
	"github.com/watchtowerhq/watchtower-go/internal/logging"
	"github.com/watchtowerhq/watchtower-go/internal/observability"
	"github.com/watchtowerhq/watchtower-go/internal/pipeline"
	"github.com/watchtowerhq/watchtower-go/internal/recognizer"
)

// sharedPoolWorkers sizes the pool absorbing recognizer, lock and status
// calls. Detection gets its own single worker.
const sharedPoolWorkers = 4

// Monitor runs the whole application.
type Monitor struct {
	settings *conf.Settings
}

// New creates a monitor for the given settings.
func New(settings *conf.Settings) *Monitor {
	return &Monitor{settings: settings}
}

// Run starts every component and blocks until SIGINT or SIGTERM. Returns nil
// on a clean signal-driven shutdown.
func (m *Monitor) Run() error {
	logger := logging.ForService("monitor")
	if logger == nil {
		logger = slog.Default()
	}
	settings := m.settings

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store first, everything else depends on it.
	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close datastore", "error", err)
		}
	}()

	// Worker pools. Drained, not killed, on shutdown.
	detectorPool := dispatch.NewPool("detector", 1)
	sharedPool := dispatch.NewPool("shared", sharedPoolWorkers)
	defer detectorPool.Close()
	defer sharedPool.Close()

	det := detector.NewSerialized(
		detector.NewHTTPClient(settings.Detector.ServiceURL),
		detectorPool,
		settings.Detector.ConfidenceThreshold,
	)

	var matcher recognizer.Matcher = recognizer.Disabled{}
	if settings.Recognizer.Enabled {
		matcher = recognizer.NewHTTPMatcher(settings.Recognizer.ServiceURL, settings.Recognizer.Tolerance)
	}

	var lockCtl lock.Controller
	if settings.LockConfigured() {
		lockCtl = lock.NewSwitchBotClient(&settings.Lock)
	} else {
		logger.Info("Lock not configured, actuation disabled")
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	alerter.SetMetrics(metrics.Alerts)

	alerts := buildAlerter(settings, logger)
	if alerts == nil {
		logger.Info("No alert providers configured, alerting disabled")
	}

	source := camera.NewMQTTSource(&settings.Camera.MQTT, settings.Main.Name)
	if err := source.Connect(ctx); err != nil {
		return err
	}
	defer source.Close()

	proc := pipeline.NewProcessor(settings, pipeline.Deps{
		Source:     source,
		Detector:   det,
		Matcher:    matcher,
		Lock:       lockCtl,
		Store:      store,
		Alerts:     alerts,
		SharedPool: sharedPool,
		Metrics:    metrics.Pipeline,
	})

	var server *httpcontroller.Server
	if settings.WebServer.Enabled {
		server = httpcontroller.New(settings, store, lockCtl, alerts, metrics, sharedPool)
		server.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return proc.Run(gctx)
	})
	g.Go(func() error {
		return newDiskWatcher(settings, logger).Run(gctx)
	})

	<-gctx.Done()
	logger.Info("Shutdown requested, stopping pipeline")

	// The pipeline exits with the context error on a clean shutdown.
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Pipeline terminated abnormally", "error", err)
	} else {
		err = nil
	}

	if server != nil {
		if shutdownErr := server.Shutdown(); shutdownErr != nil {
			logger.Error("HTTP server shutdown failed", "error", shutdownErr)
		}
	}

	logger.Info("Shutdown complete")
	return err
}

// buildAlerter assembles the configured alert providers. Returns nil when no
// channel is configured, a nil Alerter is valid everywhere.
func buildAlerter(settings *conf.Settings, logger *slog.Logger) *alerter.Alerter {
	var providers []alerter.Provider

	if settings.TelegramConfigured() {
		providers = append(providers, alerter.NewTelegramProvider(&settings.Alerts.Telegram))
	}

	if len(settings.Alerts.ShoutrrrURLs) > 0 {
		sp, err := alerter.NewShoutrrrProvider(settings.Alerts.ShoutrrrURLs, 10*time.Second)
		if err != nil {
			logger.Warn("Ignoring invalid shoutrrr configuration", "error", err)
		} else {
			providers = append(providers, sp)
		}
	}

	return alerter.New(settings.Alerts.CoalesceWindow, providers...)
}
