package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/roastedbeans/certification-authority/internal/response"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      HealthStatus           `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Version     string                 `json:"version,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	Uptime      string                 `json:"uptime"`
	Checks      map[string]CheckResult `json:"checks,omitempty"`
	Summary     *HealthSummary         `json:"summary,omitempty"`
}

// HealthSummary provides summary statistics
type HealthSummary struct {
	TotalChecks     int `json:"total_checks"`
	HealthyChecks   int `json:"healthy_checks"`
	DegradedChecks  int `json:"degraded_checks"`
	UnhealthyChecks int `json:"unhealthy_checks"`
}

// CheckResult represents individual health check results
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Error   string       `json:"error,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthChecker is one readiness dependency. Check returns the status and,
// when not healthy, the reason.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) (HealthStatus, error)
}

// PingChecker adapts a ping function such as (*sql.DB).PingContext.
type PingChecker struct {
	CheckName string
	Ping      func(ctx context.Context) error
}

func (p PingChecker) Name() string { return p.CheckName }

func (p PingChecker) Check(ctx context.Context) (HealthStatus, error) {
	if err := p.Ping(ctx); err != nil {
		return HealthStatusUnhealthy, err
	}
	return HealthStatusHealthy, nil
}

// SignerChecker reports the CA signing key. A key that works but lacks
// rotation is degraded, not unhealthy.
type SignerChecker struct {
	Health func(ctx context.Context) (string, error)
}

func (SignerChecker) Name() string { return "signer" }

func (s SignerChecker) Check(ctx context.Context) (HealthStatus, error) {
	status, err := s.Health(ctx)
	if err != nil {
		return HealthStatusUnhealthy, err
	}
	if HealthStatus(status) == HealthStatusDegraded {
		return HealthStatusDegraded, nil
	}
	return HealthStatusHealthy, nil
}

// HealthHandler serves /healthz and /readyz.
type HealthHandler struct {
	env          string
	version      string
	checkers     []HealthChecker
	checkTimeout time.Duration
	started      time.Time
}

func NewHealthHandler(env, version string, checkers ...HealthChecker) *HealthHandler {
	return &HealthHandler{
		env:          env,
		version:      version,
		checkers:     checkers,
		checkTimeout: 2 * time.Second,
		started:      time.Now(),
	}
}

// Live answers liveness probes without touching dependencies.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, HealthResponse{
		Status:      HealthStatusHealthy,
		Timestamp:   time.Now().UTC(),
		Version:     h.version,
		Environment: h.env,
		Uptime:      time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready runs every checker. Any unhealthy dependency answers 503; degraded
// ones still answer 200.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:      HealthStatusHealthy,
		Timestamp:   time.Now().UTC(),
		Version:     h.version,
		Environment: h.env,
		Uptime:      time.Since(h.started).Round(time.Second).String(),
		Checks:      make(map[string]CheckResult, len(h.checkers)),
		Summary:     &HealthSummary{},
	}
	for _, c := range h.checkers {
		start := time.Now()
		status, err := c.Check(ctx)
		res := CheckResult{Status: status, Latency: time.Since(start).String()}
		if err != nil {
			res.Error = err.Error()
		}
		resp.Checks[c.Name()] = res
		resp.Summary.TotalChecks++

		switch status {
		case HealthStatusHealthy:
			resp.Summary.HealthyChecks++
		case HealthStatusDegraded:
			resp.Summary.DegradedChecks++
			if resp.Status != HealthStatusUnhealthy {
				resp.Status = HealthStatusDegraded
			}
		default:
			resp.Summary.UnhealthyChecks++
			resp.Status = HealthStatusUnhealthy
			logger.Warnw("readiness check failed", "check", c.Name(), "error", res.Error)
		}
	}

	code := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, code, resp)
}
