package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/agent-bridge/internal/api/response"
	"github.com/rs/zerolog/hlog"
)

// Pinger reports whether a backing service is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck returns readiness status including store connectivity
func ReadyCheck(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for name, p := range checks {
			if err := p.Ping(r.Context()); err != nil {
				hlog.FromRequest(r).Warn().Err(err).Str("check", name).Msg("readiness check failed")
				response.Error(w, http.StatusServiceUnavailable, name+" not ready")
				return
			}
		}

		response.OK(w, map[string]string{
			"status": "ready",
		})
	}
}
