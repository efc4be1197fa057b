package frame

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchtowerhq/watchtower-go/internal/datastore"
)

func testFrame(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 80, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func TestSaveThumbnailWritesJPEG(t *testing.T) {
	dir := t.TempDir()
	recordedAt := time.Date(2026, 2, 25, 10, 30, 0, 0, time.UTC)

	path := SaveThumbnail(dir, testFrame(t, 64, 48), recordedAt)
	require.NotEmpty(t, path)
	assert.Contains(t, path, "2026-02-25T10-30-00")
	assert.NotContains(t, path, ":")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestSaveThumbnailSwallowsDecodeFailure(t *testing.T) {
	path := SaveThumbnail(t.TempDir(), []byte("not an image"), time.Now())
	assert.Empty(t, path)
}

func TestCropPersonReturnsSubImage(t *testing.T) {
	frameBytes := testFrame(t, 200, 200)

	crop, err := CropPerson(frameBytes, datastore.Detection{
		Label: datastore.LabelPerson, Confidence: 0.9,
		BboxX1: 20, BboxY1: 30, BboxX2: 120, BboxY2: 180,
	})
	require.NoError(t, err)
	require.NotEmpty(t, crop)

	img, err := imaging.Decode(bytes.NewReader(crop))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 150, img.Bounds().Dy())
}

func TestCropPersonClampsToImageBounds(t *testing.T) {
	frameBytes := testFrame(t, 100, 100)

	crop, err := CropPerson(frameBytes, datastore.Detection{
		Label: datastore.LabelPerson, Confidence: 0.9,
		BboxX1: -50, BboxY1: -50, BboxX2: 500, BboxY2: 500,
	})
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(crop))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())
}

func TestCropPersonDegenerateBox(t *testing.T) {
	frameBytes := testFrame(t, 100, 100)

	_, err := CropPerson(frameBytes, datastore.Detection{
		Label: datastore.LabelPerson, Confidence: 0.9,
		BboxX1: 150, BboxY1: 150, BboxX2: 400, BboxY2: 400,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "degenerate bounding box")
}

func TestCropPersonBadFrame(t *testing.T) {
	_, err := CropPerson([]byte("garbage"), datastore.Detection{BboxX2: 10, BboxY2: 10})
	require.Error(t, err)
}
