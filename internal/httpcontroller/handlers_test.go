package httpcontroller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchtowerhq/watchtower-go/internal/alerter"
	"github.com/watchtowerhq/watchtower-go/internal/conf"
	"github.com/watchtowerhq/watchtower-go/internal/datastore"
	"github.com/watchtowerhq/watchtower-go/internal/dispatch"
)

type nullProvider struct{}

func (nullProvider) Name() string                              { return "null" }
func (nullProvider) Send(context.Context, alerter.Alert) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	settings := &conf.Settings{}
	settings.Output.SQLite.Path = filepath.Join(dir, "events.db")
	settings.Output.ThumbnailsDir = filepath.Join(dir, "thumbnails")
	settings.WebServer.Port = "0"

	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	pool := dispatch.NewPool("web-test", 2)
	t.Cleanup(pool.Close)

	return New(settings, store, nil, alerter.New(time.Minute, nullProvider{}), nil, pool)
}

func seedEvents(t *testing.T, s *Server, n int, label string) {
	t.Helper()
	base := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		event := &datastore.Event{
			CameraID:   "front_door",
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
			EventType:  datastore.EventTypeMotion,
			DoorAction: datastore.DoorActionNone,
		}
		detections := []datastore.Detection{
			{Label: label, Confidence: 0.9, BboxX1: 1, BboxY1: 1, BboxX2: 50, BboxY2: 50},
		}
		require.NoError(t, s.DS.Save(event, detections))
	}
}

func doRequest(s *Server, method, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echoHeaderContentType, "application/json")
	} else {
		req = httptest.NewRequest(method, target, http.NoBody)
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestEventsPagination(t *testing.T) {
	s := newTestServer(t)
	seedEvents(t, s, 25, datastore.LabelPerson)

	rec := doRequest(s, http.MethodGet, "/api/v1/events?limit=10&page=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Events, 10)
	assert.True(t, resp.HasNext)
	assert.Equal(t, 1, resp.Page)

	// Newest first across pages.
	assert.True(t, resp.Events[0].RecordedAt.After(resp.Events[9].RecordedAt))

	rec = doRequest(s, http.MethodGet, "/api/v1/events?limit=10&page=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Events, 5)
	assert.False(t, resp.HasNext)
}

func TestEventsObjectTypeFilter(t *testing.T) {
	s := newTestServer(t)
	seedEvents(t, s, 3, datastore.LabelPerson)
	seedEvents(t, s, 2, datastore.LabelDog)

	rec := doRequest(s, http.MethodGet, "/api/v1/events?object_type=dog", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	for _, event := range resp.Events {
		require.NotEmpty(t, event.Detections)
		assert.Equal(t, datastore.LabelDog, event.Detections[0].Label)
	}
}

func TestEventsHostileParamsAreHarmless(t *testing.T) {
	s := newTestServer(t)
	seedEvents(t, s, 2, datastore.LabelPerson)

	rec := doRequest(s, http.MethodGet,
		"/api/v1/events?object_type=person%27%3B+DROP+TABLE+events%3B--&date_range=%27+OR+1%3D1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Events, "hostile object_type matches nothing")

	rec = doRequest(s, http.MethodGet, "/api/v1/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Events, 2, "events table still intact")
}

func TestEventByID(t *testing.T) {
	s := newTestServer(t)
	seedEvents(t, s, 1, datastore.LabelPerson)

	rec := doRequest(s, http.MethodGet, "/api/v1/events/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var event datastore.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.Equal(t, uint(1), event.ID)
	assert.Len(t, event.Detections, 1)

	rec = doRequest(s, http.MethodGet, "/api/v1/events/9999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/events/not-a-number", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummary(t *testing.T) {
	s := newTestServer(t)
	seedEvents(t, s, 4, datastore.LabelPerson)

	rec := doRequest(s, http.MethodGet, "/api/v1/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp summaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(4), resp.TodayCount)
	require.NotNil(t, resp.LastEvent)
	assert.Nil(t, resp.LockStatus, "no lock configured")
}

func TestThumbnailTraversalRejected(t *testing.T) {
	s := newTestServer(t)

	for _, name := range []string{"..%2F..%2Fetc%2Fpasswd", "..", "a%5Cb.jpg"} {
		rec := doRequest(s, http.MethodGet, "/thumbnails/"+name, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "name %q must be rejected", name)
	}
}

func TestThumbnailServed(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.MkdirAll(s.Settings.Output.ThumbnailsDir, 0o755))
	path := filepath.Join(s.Settings.Output.ThumbnailsDir, "2026-03-01T08-00-00-000.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpegdata"), 0o644))

	rec := doRequest(s, http.MethodGet, "/thumbnails/2026-03-01T08-00-00-000.jpg", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpegdata", rec.Body.String())

	rec = doRequest(s, http.MethodGet, "/thumbnails/missing.jpg", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMuteEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/alerts/mute", `{"duration_minutes":30}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.Alerts.IsMuted())

	rec = doRequest(s, http.MethodPost, "/api/v1/alerts/unmute", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.Alerts.IsMuted())

	rec = doRequest(s, http.MethodPost, "/api/v1/alerts/mute", `{"duration_minutes":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMuteWithoutAlerterConflicts(t *testing.T) {
	s := newTestServer(t)
	s.Alerts = nil

	rec := doRequest(s, http.MethodPost, "/api/v1/alerts/mute", `{"duration_minutes":5}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// Guard against accidentally exposing write routes.
func TestNoWriteRoutesForEvents(t *testing.T) {
	s := newTestServer(t)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := doRequest(s, method, "/api/v1/events", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code,
			fmt.Sprintf("%s /api/v1/events must not exist", method))
	}
}
