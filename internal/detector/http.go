package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/watchtowerhq/watchtower-go/internal/datastore"
	"github.com/watchtowerhq/watchtower-go/internal/errors"
)

// HTTPClient talks to an inference sidecar service. The service accepts a raw
// JPEG body on POST and answers with a JSON detection list. The client itself
// is stateless, serialization happens in the Serialized wrapper because the
// sidecar runs one model instance.
type HTTPClient struct {
	serviceURL string
	client     *http.Client
}

// NewHTTPClient creates a detector client for the given inference service URL.
func NewHTTPClient(serviceURL string) *HTTPClient {
	return &HTTPClient{
		serviceURL: serviceURL,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// inferenceResponse is the sidecar's answer payload.
type inferenceResponse struct {
	Detections []struct {
		Label      string    `json:"label"`
		Confidence float64   `json:"confidence"`
		Bbox       []float64 `json:"bbox"` // x1, y1, x2, y2
	} `json:"detections"`
}

// Detect implements Client.
func (c *HTTPClient) Detect(ctx context.Context, frameBytes []byte) ([]datastore.Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL, bytes.NewReader(frameBytes))
	if err != nil {
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryValidation).
			Build()
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryNetwork).
			Context("service_url", c.serviceURL).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("inference service returned status %d", resp.StatusCode).
			Component("detector").
			Category(errors.CategoryDetection).
			Context("status_code", resp.StatusCode).
			Build()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryNetwork).
			Build()
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryDetection).
			Build()
	}

	detections := make([]datastore.Detection, 0, len(parsed.Detections))
	for _, d := range parsed.Detections {
		det := datastore.Detection{Label: d.Label, Confidence: d.Confidence}
		if len(d.Bbox) == 4 {
			det.BboxX1, det.BboxY1, det.BboxX2, det.BboxY2 = d.Bbox[0], d.Bbox[1], d.Bbox[2], d.Bbox[3]
		}
		detections = append(detections, det)
	}
	return detections, nil
}
