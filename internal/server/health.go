package server

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker checks one dependency.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Check(ctx context.Context) error { return f(ctx) }

// HealthStatus is the /health response.
type HealthStatus struct {
	Status      string                 `json:"status"`
	Environment string                 `json:"environment"`
	Checks      map[string]CheckStatus `json:"checks,omitempty"`
}

// CheckStatus is the result of one check.
type CheckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthHandler reports liveness and the deployment environment. A failing
// check turns the response into a 503.
func HealthHandler(environment string, checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		health := HealthStatus{Status: "ok", Environment: environment}
		if len(checks) > 0 {
			health.Checks = make(map[string]CheckStatus, len(checks))
		}
		for name, c := range checks {
			if err := c.Check(ctx); err != nil {
				health.Status = "unhealthy"
				health.Checks[name] = CheckStatus{Status: "unhealthy", Message: err.Error()}
				continue
			}
			health.Checks[name] = CheckStatus{Status: "ok"}
		}

		status := http.StatusOK
		if health.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	}
}
