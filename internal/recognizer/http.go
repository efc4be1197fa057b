package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/watchtowerhq/watchtower-go/internal/errors"
)

// HTTPMatcher talks to a face recognition sidecar service. POST the face crop
// as a raw JPEG, get back the best match and its distance; matches above the
// configured tolerance are treated as strangers.
type HTTPMatcher struct {
	serviceURL string
	tolerance  float64
	client     *http.Client
}

// NewHTTPMatcher creates a matcher for the given recognition service URL.
func NewHTTPMatcher(serviceURL string, tolerance float64) *HTTPMatcher {
	return &HTTPMatcher{
		serviceURL: serviceURL,
		tolerance:  tolerance,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// matchResponse is the sidecar's answer payload. Distance is the embedding
// distance of the best candidate, lower is closer.
type matchResponse struct {
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// Identify implements Matcher.
func (m *HTTPMatcher) Identify(ctx context.Context, imageBytes []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.serviceURL, bytes.NewReader(imageBytes))
	if err != nil {
		return "", errors.New(err).
			Component("recognizer").
			Category(errors.CategoryValidation).
			Build()
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", errors.New(err).
			Component("recognizer").
			Category(errors.CategoryNetwork).
			Context("service_url", m.serviceURL).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		// No face found in the image.
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("recognition service returned status %d", resp.StatusCode).
			Component("recognizer").
			Category(errors.CategoryRecognition).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var parsed matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.New(err).
			Component("recognizer").
			Category(errors.CategoryRecognition).
			Build()
	}

	if parsed.Name == "" || (m.tolerance > 0 && parsed.Distance > m.tolerance) {
		return "", nil
	}
	return parsed.Name, nil
}
