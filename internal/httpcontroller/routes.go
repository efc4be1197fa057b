package httpcontroller

import (
	"github.com/labstack/echo/v4"
)

// initRoutes registers every route the dashboard API serves. All data routes
// are read-only, the only mutating endpoints control alert muting.
func (s *Server) initRoutes() {
	s.Echo.GET("/healthz", s.handleHealth)

	api := s.Echo.Group("/api/v1")
	api.GET("/events", s.handleEvents)
	api.GET("/events/:id", s.handleEvent)
	api.GET("/summary", s.handleSummary)
	api.POST("/alerts/mute", s.handleMute)
	api.POST("/alerts/unmute", s.handleUnmute)

	s.Echo.GET("/thumbnails/:filename", s.handleThumbnail)

	if s.Metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))
	}
}
