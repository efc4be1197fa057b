// Package pipeline turns upstream motion events into durable event records,
// lock actuations and alerts. Events are processed strictly one at a time, so
// cooldown state needs no locking.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/watchtowerhq/watchtower-go/internal/alerter"
	"github.com/watchtowerhq/watchtower-go/internal/camera"
	"github.com/watchtowerhq/watchtower-go/internal/conf"
	"github.com/watchtowerhq/watchtower-go/internal/datastore"
	"github.com/watchtowerhq/watchtower-go/internal/detector"
	"github.com/watchtowerhq/watchtower-go/internal/dispatch"
	"github.com/watchtowerhq/watchtower-go/internal/errors"
	"github.com/watchtowerhq/watchtower-go/internal/frame"
	"github.com/watchtowerhq/watchtower-go/internal/lock"
	"github.com/watchtowerhq/watchtower-go/internal/logging"
	"github.com/watchtowerhq/watchtower-go/internal/observability/metrics"
	"github.com/watchtowerhq/watchtower-go/internal/recognizer"
)

var (
	pipelineLogger   *slog.Logger
	pipelineLevelVar = new(slog.LevelVar)
)

func init() {
	var err error
	pipelineLevelVar.Set(slog.LevelInfo)
	pipelineLogger, _, err = logging.NewFileLogger("logs/pipeline.log", "pipeline", pipelineLevelVar)
	if err != nil || pipelineLogger == nil {
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: pipelineLevelVar})
		pipelineLogger = slog.New(fbHandler).With("service", "pipeline")
	}
}

// errorPause is how long the loop rests after a failed iteration before
// picking up the next event.
const errorPause = 5 * time.Second

// Deps bundles the collaborators a Processor needs. Lock and Alerts may be
// nil when unconfigured, the pipeline then skips actuation and alerting.
type Deps struct {
	Source     camera.Source
	Detector   *detector.Serialized
	Matcher    recognizer.Matcher
	Lock       lock.Controller
	Store      datastore.Interface
	Alerts     *alerter.Alerter
	SharedPool *dispatch.Pool
	Metrics    *metrics.PipelineMetrics
}

// Processor owns the event loop. Cooldown state lives on the instance so
// tests can construct fresh processors deterministically.
type Processor struct {
	settings *conf.Settings
	deps     Deps

	lastUnlock time.Time
	errorPause time.Duration
	now        func() time.Time
}

// NewProcessor creates a processor. Run must be called to start processing.
func NewProcessor(settings *conf.Settings, deps Deps) *Processor {
	return &Processor{
		settings:   settings,
		deps:       deps,
		errorPause: errorPause,
		now:        time.Now,
	}
}

// Run processes events until the context is cancelled. Cancellation is the
// only way Run returns, any other failure is logged and the loop continues
// after a short pause. One bad event never terminates the pipeline.
func (p *Processor) Run(ctx context.Context) error {
	pipelineLogger.Info("Pipeline started",
		"camera", p.settings.Camera.ID,
		"poll_interval", p.settings.Camera.PollInterval.String())

	for {
		err := p.processNext(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			pipelineLogger.Info("Pipeline stopped", "reason", ctx.Err())
			return err
		}

		pipelineLogger.Error("Event processing failed", "error", err)
		p.deps.Metrics.IncrementEventProcessed(datastore.EventTypeMotion, "error")

		select {
		case <-time.After(p.errorPause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// processNext handles at most one upstream event. A bounded wait with no
// event is not an error, the caller just loops again, which keeps
// cancellation responsive.
func (p *Processor) processNext(ctx context.Context) error {
	event, err := p.deps.Source.WaitForEvent(ctx, p.settings.Camera.PollInterval)
	if err != nil {
		return err
	}
	if event == nil {
		return nil
	}

	cameraID := event.CameraID
	if cameraID == "" {
		cameraID = p.settings.Camera.ID
	}
	pipelineLogger.Info("Processing event",
		"camera", cameraID,
		"type", event.EventType,
		"recording_id", event.RecordingID)

	cooldownActive := p.cooldownActive()

	frameBytes, err := p.deps.Source.CaptureFrame(ctx, cameraID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		pipelineLogger.Warn("Frame capture failed, persisting bare event", "error", err)
		frameBytes = nil
	}

	var thumbnailPath string
	var detections []datastore.Detection
	if len(frameBytes) > 0 {
		// Thumbnail first so the event has an image even when detection fails.
		thumbnailPath = frame.SaveThumbnail(p.settings.Output.ThumbnailsDir, frameBytes, event.RecordedAt)

		start := p.now()
		detections, err = p.deps.Detector.Detect(ctx, frameBytes)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			pipelineLogger.Warn("Detection failed, persisting event without detections", "error", err)
			detections = nil
		}
		p.deps.Metrics.ObserveDetectionDuration(time.Since(start))
	}

	person := detector.BestPerson(detections)
	personName := p.identify(ctx, frameBytes, person)
	if err := ctx.Err(); err != nil {
		return err
	}

	granted, doorAction := p.actuate(ctx, personName, cooldownActive)
	if err := ctx.Err(); err != nil {
		return err
	}

	alertCategory, caption := p.classifyAlert(cameraID, person, personName, granted, detections)

	record := &datastore.Event{
		CameraID:   cameraID,
		RecordedAt: event.RecordedAt,
		EventType:  event.EventType,

		UnlockGranted: granted,
		DoorAction:    doorAction,
		AlertSent:     p.deps.Alerts != nil && alertCategory != "",
	}
	if event.RecordingID != "" {
		record.RecordingID = &event.RecordingID
	}
	if personName != "" {
		record.PersonName = &personName
	}
	if thumbnailPath != "" {
		record.ThumbnailPath = &thumbnailPath
	}

	if err := p.deps.Store.Save(record, detections); err != nil {
		return err
	}
	pipelineLogger.Info("Event stored",
		"id", record.ID,
		"detections", len(detections),
		"person", personName,
		"unlock_granted", granted)
	p.deps.Metrics.IncrementEventProcessed(event.EventType, "processed")

	// Alerts fire only after the write is durable, an alert must never
	// reference a record that does not exist yet.
	if alertCategory != "" {
		p.deps.Alerts.Dispatch(ctx, alerter.Alert{
			Category:      alertCategory,
			ThumbnailPath: thumbnailPath,
			Caption:       caption,
		})
	}
	return nil
}

// identify runs face recognition on the best person crop through the shared
// pool. Returns "" when there is no person, no matcher, or no match. A crop
// extraction failure falls back to matching the full frame.
func (p *Processor) identify(ctx context.Context, frameBytes []byte, person *datastore.Detection) string {
	if person == nil {
		p.deps.Metrics.IncrementRecognitionOutcome("no_person")
		return ""
	}
	if p.deps.Matcher == nil || len(frameBytes) == 0 {
		return ""
	}

	faceImage, err := frame.CropPerson(frameBytes, *person)
	if err != nil {
		pipelineLogger.Warn("Person crop failed, matching full frame", "error", err)
		faceImage = frameBytes
	}

	name, err := dispatch.Run(ctx, p.deps.SharedPool, func() (string, error) {
		return p.deps.Matcher.Identify(ctx, faceImage)
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			pipelineLogger.Warn("Face recognition failed", "error", err)
		}
		return ""
	}

	if name == "" {
		p.deps.Metrics.IncrementRecognitionOutcome("stranger")
	} else {
		p.deps.Metrics.IncrementRecognitionOutcome("match")
	}
	return name
}

// actuate unlocks the door for a recognized person. The cooldown timestamp
// advances only on a confirmed success, a rejected or failed command leaves
// it untouched so the next matching event may try again.
func (p *Processor) actuate(ctx context.Context, personName string, cooldownActive bool) (granted bool, doorAction string) {
	if personName == "" || p.deps.Lock == nil {
		return false, datastore.DoorActionNone
	}

	if cooldownActive {
		pipelineLogger.Info("Unlock suppressed, cooldown active", "person", personName)
		p.deps.Metrics.IncrementUnlockAttempt("cooldown")
		return false, datastore.DoorActionNone
	}

	ok, err := dispatch.Run(ctx, p.deps.SharedPool, func() (bool, error) {
		return p.deps.Lock.Unlock(ctx)
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			pipelineLogger.Error("Unlock command failed", "person", personName, "error", err)
			p.deps.Metrics.IncrementUnlockAttempt("error")
		}
		return false, datastore.DoorActionNone
	}
	if !ok {
		pipelineLogger.Warn("Unlock command rejected by cloud", "person", personName)
		p.deps.Metrics.IncrementUnlockAttempt("rejected")
		return false, datastore.DoorActionNone
	}

	p.lastUnlock = p.now()
	pipelineLogger.Info("Door unlocked", "person", personName)
	p.deps.Metrics.IncrementUnlockAttempt("granted")
	return true, datastore.DoorActionUnlocked
}

// cooldownActive reports whether the last confirmed unlock is still within
// the configured cooldown.
func (p *Processor) cooldownActive() bool {
	if p.settings.Lock.Cooldown <= 0 || p.lastUnlock.IsZero() {
		return false
	}
	return p.now().Sub(p.lastUnlock) < p.settings.Lock.Cooldown
}

// classifyAlert picks at most one alert category for the event.
func (p *Processor) classifyAlert(cameraID string, person *datastore.Detection, personName string, granted bool, detections []datastore.Detection) (alerter.Category, string) {
	switch {
	case granted:
		return alerter.CategoryUnlock, fmt.Sprintf("Door unlocked for %s at %s", personName, cameraID)
	case person != nil && personName == "":
		return alerter.CategoryStranger, fmt.Sprintf("Unknown person detected at %s", cameraID)
	case len(detections) > 0:
		return alerter.CategoryMotion, fmt.Sprintf("Motion at %s: %s", cameraID, labelSummary(detections))
	default:
		return "", ""
	}
}

// labelSummary joins the distinct detection labels in submission order.
func labelSummary(detections []datastore.Detection) string {
	seen := make(map[string]bool, len(detections))
	labels := make([]string, 0, len(detections))
	for i := range detections {
		if !seen[detections[i].Label] {
			seen[detections[i].Label] = true
			labels = append(labels, detections[i].Label)
		}
	}
	return strings.Join(labels, ", ")
}
