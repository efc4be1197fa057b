// Package frame holds the CPU-bound image helpers of the pipeline: thumbnail
// persistence and person-crop extraction.
package frame

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/watchtowerhq/watchtower-go/internal/datastore"
	"github.com/watchtowerhq/watchtower-go/internal/errors"
	"github.com/watchtowerhq/watchtower-go/internal/logging"
)

const thumbnailQuality = 85
const cropQuality = 90

// SaveThumbnail saves a camera frame as a JPEG thumbnail named from the
// sanitized event timestamp and returns its relative path. Thumbnail failures
// are non-fatal by contract: any error is swallowed into an empty path so the
// event write can never be blocked by a broken frame.
func SaveThumbnail(dir string, frameBytes []byte, recordedAt time.Time) string {
	path, err := saveThumbnail(dir, frameBytes, recordedAt)
	if err != nil {
		logging.Warn("Failed to save thumbnail", "error", err, "recorded_at", recordedAt)
		return ""
	}
	return path
}

func saveThumbnail(dir string, frameBytes []byte, recordedAt time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.New(err).
			Component("frame").
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}

	img, err := imaging.Decode(bytes.NewReader(frameBytes))
	if err != nil {
		return "", errors.New(err).
			Component("frame").
			Category(errors.CategoryImage).
			Build()
	}

	path := filepath.Join(dir, sanitizeTimestamp(recordedAt)+".jpg")
	if err := imaging.Save(img, path, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return "", errors.New(err).
			Component("frame").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	return path, nil
}

// sanitizeTimestamp turns an event timestamp into a filesystem-safe filename
// fragment.
func sanitizeTimestamp(t time.Time) string {
	s := t.Format("2006-01-02T15-04-05.000")
	return strings.ReplaceAll(s, ".", "-")
}

// CropPerson extracts a person bounding box from a frame and returns it as
// JPEG bytes. A tight crop improves identity matching when several people are
// in frame. Returns an error on decode failure or when the clamped box is
// degenerate, the caller falls back to the full frame.
func CropPerson(frameBytes []byte, det datastore.Detection) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(frameBytes))
	if err != nil {
		return nil, errors.New(err).
			Component("frame").
			Category(errors.CategoryImage).
			Build()
	}

	bounds := img.Bounds()
	x1 := max(int(det.BboxX1), bounds.Min.X)
	y1 := max(int(det.BboxY1), bounds.Min.Y)
	x2 := min(int(det.BboxX2), bounds.Max.X)
	y2 := min(int(det.BboxY2), bounds.Max.Y)

	if x2-x1 <= 0 || y2-y1 <= 0 {
		return nil, errors.Newf("degenerate bounding box after clamping: (%d,%d)-(%d,%d)", x1, y1, x2, y2).
			Component("frame").
			Category(errors.CategoryImage).
			Build()
	}

	crop := imaging.Crop(img, image.Rect(x1, y1, x2, y2))

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, crop, imaging.JPEG, imaging.JPEGQuality(cropQuality)); err != nil {
		return nil, errors.New(err).
			Component("frame").
			Category(errors.CategoryImage).
			Build()
	}
	return buf.Bytes(), nil
}
