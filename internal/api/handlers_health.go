package api

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	apperrors "github.com/edison-alpha/backendmome/internal/errors"
)

// healthCheckTimeout bounds each dependency probe
const healthCheckTimeout = 2 * time.Second

// handleHealth handles GET /health. Any failing dependency makes the
// service report 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.checks))
	var failed []string

	for _, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.Check(ctx)
		cancel()
		if err != nil {
			failed = append(failed, check.Name)
			components[check.Name] = "unhealthy: " + err.Error()
			continue
		}
		components[check.Name] = "healthy"
	}

	body := map[string]interface{}{
		"status":     "healthy",
		"service":    "raffle-read-model",
		"components": components,
	}
	if len(failed) == 0 {
		respondJSON(w, http.StatusOK, body)
		return
	}

	sort.Strings(failed)
	unavailable := apperrors.NewServiceUnavailableError(strings.Join(failed, ","))
	body["status"] = "unhealthy"
	body["error"] = unavailable.ToServiceError()
	respondJSON(w, unavailable.StatusCode, body)
}
