package server

import (
	"net/http"
	"time"

	"github.com/conneroisu/livedoc/internal/version"
)

// HealthStatus is the state of one health check.
type HealthStatus string

const HealthStatusHealthy HealthStatus = "healthy"

// HealthCheck is one component's entry in the health response.
type HealthCheck struct {
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	BuildInfo *version.BuildInfo     `json:"build_info"`
	Checks    map[string]HealthCheck `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	docs := s.store.List()
	dirty := 0
	for _, d := range docs {
		if d.Dirty {
			dirty++
		}
	}

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Version:   version.GetShortVersion(),
		BuildInfo: version.GetBuildInfo(),
		Checks: map[string]HealthCheck{
			"content": {
				Status:  HealthStatusHealthy,
				Details: map[string]interface{}{"open": len(docs), "dirty": dirty},
			},
			"rooms": {
				Status:  HealthStatusHealthy,
				Details: map[string]interface{}{"live": len(s.rooms.Paths())},
			},
			"presence": {
				Status:  HealthStatusHealthy,
				Details: map[string]interface{}{"users": len(s.presence.GetUsers())},
			},
		},
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}
