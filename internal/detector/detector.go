// Package detector defines the object detection capability and the serialized
// adapter the pipeline invokes it through.
package detector

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/watchtowerhq/watchtower-go/internal/datastore"
	"github.com/watchtowerhq/watchtower-go/internal/dispatch"
	"github.com/watchtowerhq/watchtower-go/internal/logging"
)

// Package-level logger for detection operations
var (
	detectorLogger   *slog.Logger
	detectorLevelVar = new(slog.LevelVar)
)

func init() {
	var err error
	detectorLevelVar.Set(slog.LevelInfo)
	detectorLogger, _, err = logging.NewFileLogger("logs/detector.log", "detector", detectorLevelVar)
	if err != nil || detectorLogger == nil {
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: detectorLevelVar})
		detectorLogger = slog.New(fbHandler).With("service", "detector")
	}
}

// slowInferenceThreshold flags inference runs that likely indicate thermal
// throttling on small boards.
const slowInferenceThreshold = 300 * time.Millisecond

// Client runs object detection on a single frame. Implementations wrap the
// actual inference backend and are typically not safe for concurrent use.
type Client interface {
	Detect(ctx context.Context, frameBytes []byte) ([]datastore.Detection, error)
}

// Serialized routes every inference call through a dedicated single-worker
// pool. Serializing through one worker removes the need for locks inside the
// inference backend while keeping callers unblocked. It also applies the
// confidence threshold and restricts results to the known label set.
type Serialized struct {
	client    Client
	pool      *dispatch.Pool
	threshold float64
}

// NewSerialized wraps client so all calls go through pool. The pool must have
// exactly one worker.
func NewSerialized(client Client, pool *dispatch.Pool, threshold float64) *Serialized {
	return &Serialized{client: client, pool: pool, threshold: threshold}
}

// Detect runs inference off the caller's goroutine and returns the relevant
// detections. Failures propagate unchanged, the dispatcher never retries.
func (s *Serialized) Detect(ctx context.Context, frameBytes []byte) ([]datastore.Detection, error) {
	start := time.Now()

	raw, err := dispatch.Run(ctx, s.pool, func() ([]datastore.Detection, error) {
		return s.client.Detect(ctx, frameBytes)
	})
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	detections := filter(raw, s.threshold)

	detectorLogger.Info("Inference completed",
		"elapsed_ms", elapsed.Milliseconds(),
		"detections", len(detections))

	if elapsed > slowInferenceThreshold {
		detectorLogger.Warn("Inference exceeded latency threshold, possible thermal throttling",
			"elapsed_ms", elapsed.Milliseconds())
	}

	return detections, nil
}

// filter drops detections below the confidence threshold or outside the
// known label set.
func filter(detections []datastore.Detection, threshold float64) []datastore.Detection {
	result := make([]datastore.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence < threshold {
			continue
		}
		if !slices.Contains(datastore.KnownLabels, d.Label) {
			continue
		}
		result = append(result, d)
	}
	return result
}

// BestPerson returns the highest-confidence person detection, or nil when the
// frame contains no person.
func BestPerson(detections []datastore.Detection) *datastore.Detection {
	var best *datastore.Detection
	for i := range detections {
		if detections[i].Label != datastore.LabelPerson {
			continue
		}
		if best == nil || detections[i].Confidence > best.Confidence {
			best = &detections[i]
		}
	}
	return best
}
