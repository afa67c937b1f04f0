package httpapi

import (
	"context"
	"net/http"
	"time"
)

type healthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      float64   `json:"uptime"`
	Environment string    `json:"environment"`
	Database    string    `json:"database"`
}

func (s *HTTPServer) health(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(s.started).Seconds(),
		Environment: s.config.Environment,
		Database:    "ok",
	}
	status := http.StatusOK

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Warn(ctx, "health check: database unreachable", "error", err)
			res.Status = "unhealthy"
			res.Database = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, res)
}

func (s *HTTPServer) index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "gophgate API gateway",
		"endpoints": map[string]string{
			"health": "/health",
			"auth":   "/api/auth",
			"ai":     "/api/ai",
			"audit":  "/api/audit",
		},
	})
}
