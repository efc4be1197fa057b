package httpcontroller

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/watchtowerhq/watchtower-go/internal/datastore"
	"github.com/watchtowerhq/watchtower-go/internal/dispatch"
	"github.com/watchtowerhq/watchtower-go/internal/errors"
	"github.com/watchtowerhq/watchtower-go/internal/lock"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// eventsResponse is the paginated event list payload.
type eventsResponse struct {
	Events  []datastore.Event `json:"events"`
	Page    int               `json:"page"`
	HasNext bool              `json:"has_next"`
}

// summaryResponse is the dashboard summary payload.
type summaryResponse struct {
	TodayCount int64            `json:"today_count"`
	LastEvent  *datastore.Event `json:"last_event"`
	LockStatus *lock.Status     `json:"lock_status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents serves GET /api/v1/events with limit, page, date_range and
// object_type query parameters. It fetches one row beyond the page size to
// decide has_next without a second count query.
func (s *Server) handleEvents(c echo.Context) error {
	limit := queryInt(c, "limit", defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	dateRange := c.QueryParam("date_range")
	if dateRange == "" {
		dateRange = datastore.DateRangeAll
	}
	objectType := c.QueryParam("object_type")
	if objectType == "" {
		objectType = datastore.ObjectTypeAll
	}

	events, err := s.DS.GetFilteredEvents(limit+1, offset, dateRange, objectType)
	if err != nil {
		return s.serverError(c, err, "listing events")
	}

	hasNext := len(events) > limit
	if hasNext {
		events = events[:limit]
	}

	return c.JSON(http.StatusOK, eventsResponse{
		Events:  events,
		Page:    page,
		HasNext: hasNext,
	})
}

func (s *Server) handleEvent(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid event id"})
	}

	event, err := s.DS.Get(uint(id))
	if err != nil {
		if errors.HasCategory(err, errors.CategoryNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "event not found"})
		}
		return s.serverError(c, err, "getting event")
	}

	return c.JSON(http.StatusOK, event)
}

// handleSummary serves today's event count, the most recent event and, when a
// lock is configured, its live status fetched through the shared pool.
func (s *Server) handleSummary(c echo.Context) error {
	count, err := s.DS.GetTodayEventCount()
	if err != nil {
		return s.serverError(c, err, "counting today's events")
	}

	resp := summaryResponse{TodayCount: count}

	recent, err := s.DS.GetRecentEvents(1, 0)
	if err != nil {
		return s.serverError(c, err, "getting last event")
	}
	if len(recent) > 0 {
		resp.LastEvent = &recent[0]
	}

	if s.Lock != nil {
		ctx := c.Request().Context()
		status, err := dispatch.Run(ctx, s.SharedPool, func() (*lock.Status, error) {
			return s.Lock.Status(ctx)
		})
		if err != nil {
			// Live lock status is best-effort, the summary still serves.
			s.logError(err, "querying lock status")
		} else {
			resp.LockStatus = status
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// muteRequest is the POST /api/v1/alerts/mute body.
type muteRequest struct {
	DurationMinutes int `json:"duration_minutes"`
}

func (s *Server) handleMute(c echo.Context) error {
	if s.Alerts == nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": "alerts are not configured"})
	}

	var req muteRequest
	if err := c.Bind(&req); err != nil || req.DurationMinutes < 1 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "duration_minutes must be a positive integer"})
	}

	s.Alerts.Mute(time.Duration(req.DurationMinutes) * time.Minute)
	return c.JSON(http.StatusOK, map[string]any{
		"muted":            true,
		"duration_minutes": req.DurationMinutes,
	})
}

func (s *Server) handleUnmute(c echo.Context) error {
	if s.Alerts == nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": "alerts are not configured"})
	}

	s.Alerts.Unmute()
	return c.JSON(http.StatusOK, map[string]any{"muted": false})
}

// handleThumbnail serves a single thumbnail by file name. Anything that could
// escape the thumbnails directory is rejected before touching the filesystem.
func (s *Server) handleThumbnail(c echo.Context) error {
	filename := c.Param("filename")
	if filename == "" ||
		strings.Contains(filename, "..") ||
		strings.ContainsAny(filename, `/\`) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid thumbnail name"})
	}

	path := filepath.Join(s.Settings.Output.ThumbnailsDir, filename)
	return c.File(path)
}

// serverError logs the real failure and returns an opaque 500, internal
// state never leaks to API clients.
func (s *Server) serverError(c echo.Context, err error, operation string) error {
	s.logError(err, operation)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func (s *Server) logError(err error, operation string) {
	if s.webLogger != nil {
		s.webLogger.Error("Request failed", "operation", operation, "error", err)
	}
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
