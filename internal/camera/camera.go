// Package camera delivers upstream motion events and frame captures from the
// doorbell camera bridge.
package camera

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/watchtowerhq/watchtower-go/internal/logging"
)

var (
	cameraLogger   *slog.Logger
	cameraLevelVar = new(slog.LevelVar)
)

func init() {
	var err error
	cameraLevelVar.Set(slog.LevelInfo)
	cameraLogger, _, err = logging.NewFileLogger("logs/camera.log", "camera", cameraLevelVar)
	if err != nil || cameraLogger == nil {
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: cameraLevelVar})
		cameraLogger = slog.New(fbHandler).With("service", "camera")
	}
}

// MotionEvent is one upstream event from the camera bridge.
type MotionEvent struct {
	EventType   string    `json:"type"`         // "motion" or "ding"
	CameraID    string    `json:"camera"`       // identifier of the originating camera
	RecordingID string    `json:"recording_id"` // upstream recording reference, may be empty
	RecordedAt  time.Time `json:"recorded_at"`  // event time, zero means receipt time
}

// Source is an upstream supplier of motion events and frames.
type Source interface {
	// WaitForEvent blocks until the next event arrives or the timeout
	// elapses. A timeout returns (nil, nil) so the caller can run its idle
	// housekeeping and wait again.
	WaitForEvent(ctx context.Context, timeout time.Duration) (*MotionEvent, error)

	// CaptureFrame fetches the freshest available JPEG frame for the camera.
	CaptureFrame(ctx context.Context, cameraID string) ([]byte, error)

	// Close releases the upstream connection.
	Close()
}
