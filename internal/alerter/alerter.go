// Package alerter delivers outbound notifications with per-category
// coalescing so burst motion events never flood the notification channel.
package alerter

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/watchtowerhq/watchtower-go/internal/logging"
	"github.com/watchtowerhq/watchtower-go/internal/observability/metrics"
)

// Package-level logger for alert operations
var (
	alertLogger   *slog.Logger
	alertLevelVar = new(slog.LevelVar)
	alertMetrics  *metrics.AlertMetrics
)

// SetMetrics sets the metrics instance for alert delivery tracking.
func SetMetrics(m *metrics.AlertMetrics) {
	alertMetrics = m
}

func init() {
	var err error
	alertLevelVar.Set(slog.LevelInfo)
	alertLogger, _, err = logging.NewFileLogger("logs/alerter.log", "alerter", alertLevelVar)
	if err != nil || alertLogger == nil {
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: alertLevelVar})
		alertLogger = slog.New(fbHandler).With("service", "alerter")
	}
}

// Category identifies an independent alert stream. Categories never suppress
// each other.
type Category string

const (
	CategoryStranger Category = "stranger"
	CategoryUnlock   Category = "unlock"
	CategoryMotion   Category = "motion"
)

// Alert is one outbound notification: an image reference plus a caption,
// always delivered as a single send.
type Alert struct {
	Category      Category
	ThumbnailPath string
	Caption       string
}

// Provider delivers an alert over one notification channel.
type Provider interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// Alerter coalesces alerts per category and fans the surviving ones out to
// its providers. A nil *Alerter is valid and drops everything silently, an
// unconfigured notification channel must never block or fail the pipeline.
type Alerter struct {
	providers []Provider
	window    time.Duration

	// mu guards lastDispatch and mutedUntil only. It is never held across a
	// network call so one slow send cannot block unrelated categories.
	mu           sync.Mutex
	lastDispatch map[Category]time.Time
	mutedUntil   time.Time

	now func() time.Time
}

// New creates an Alerter with the given coalescing window. Returns nil when
// no providers are configured.
func New(window time.Duration, providers ...Provider) *Alerter {
	if len(providers) == 0 {
		return nil
	}
	return &Alerter{
		providers:    providers,
		window:       window,
		lastDispatch: make(map[Category]time.Time),
		now:          time.Now,
	}
}

// Dispatch sends an alert unless an alert of the same category was dispatched
// within the coalescing window, or alerts are muted. Suppression is recorded
// and silent. The outbound send happens outside the critical section.
func (a *Alerter) Dispatch(ctx context.Context, alert Alert) {
	if a == nil {
		return
	}

	a.mu.Lock()
	now := a.now()

	if now.Before(a.mutedUntil) {
		a.mu.Unlock()
		alertLogger.Debug("Alert suppressed (muted)", "category", alert.Category)
		alertMetrics.IncrementAlertSuppressed(string(alert.Category), "muted")
		return
	}

	if last, ok := a.lastDispatch[alert.Category]; ok && now.Sub(last) < a.window {
		a.mu.Unlock()
		alertLogger.Debug("Alert suppressed (within coalesce window)",
			"category", alert.Category,
			"since_last", now.Sub(last).String())
		alertMetrics.IncrementAlertSuppressed(string(alert.Category), "window")
		return
	}

	a.lastDispatch[alert.Category] = now
	a.mu.Unlock()

	for _, provider := range a.providers {
		if err := provider.Send(ctx, alert); err != nil {
			// Dropped after the provider's own retry policy ran out. Alert
			// delivery is best-effort and must never fail the pipeline.
			alertLogger.Error("Alert dropped",
				"provider", provider.Name(),
				"category", alert.Category,
				"error", err)
			alertMetrics.IncrementAlertError(provider.Name())
			continue
		}
		alertLogger.Info("Alert sent", "provider", provider.Name(), "category", alert.Category)
		alertMetrics.IncrementAlertSent(provider.Name(), string(alert.Category))
	}
}

// Mute suppresses all alerts for the given duration.
func (a *Alerter) Mute(d time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.mutedUntil = a.now().Add(d)
	a.mu.Unlock()
	alertLogger.Info("Alerts muted", "duration", d.String())
}

// Unmute cancels any active mute immediately.
func (a *Alerter) Unmute() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.mutedUntil = time.Time{}
	a.mu.Unlock()
	alertLogger.Info("Alerts unmuted")
}

// IsMuted reports whether alerts are currently muted.
func (a *Alerter) IsMuted() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now().Before(a.mutedUntil)
}
