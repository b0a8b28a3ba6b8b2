// Package observability provides the health endpoints, Prometheus metrics and
// OpenTelemetry tracing of the serve command.
package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HealthChecker is probed by /healthz. A nil error means healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	Name() string
}

// ReadinessChecker is probed by /readyz. A nil error means ready.
type ReadinessChecker interface {
	ReadinessCheck(ctx context.Context) error
	Name() string
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

const defaultProbeTimeout = 5 * time.Second

// HealthStatus is one component's line in a probe response.
type HealthStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// ProbeResponse is the body of /healthz and /readyz.
type ProbeResponse struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Components []HealthStatus `json:"components"`
}

type check struct {
	name string
	fn   func(context.Context) error
}

// probe is one endpoint's list of checks and the words it reports.
type probe struct {
	name       string
	pass, fail string
	checks     []check
}

// HealthManager runs the liveness and readiness probes.
type HealthManager struct {
	logger  *zap.SugaredLogger
	timeout time.Duration

	mu        sync.RWMutex
	liveness  probe
	readiness probe
}

func NewHealthManager(logger *zap.SugaredLogger) *HealthManager {
	return &HealthManager{
		logger:    logger,
		timeout:   defaultProbeTimeout,
		liveness:  probe{name: "liveness", pass: StatusHealthy, fail: StatusUnhealthy},
		readiness: probe{name: "readiness", pass: StatusReady, fail: StatusNotReady},
	}
}

func (hm *HealthManager) AddHealthChecker(c HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.liveness.checks = append(hm.liveness.checks, check{name: c.Name(), fn: c.HealthCheck})
}

func (hm *HealthManager) AddReadinessChecker(c ReadinessChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.readiness.checks = append(hm.readiness.checks, check{name: c.Name(), fn: c.ReadinessCheck})
}

// SetTimeout bounds each probe. Non-positive values are ignored.
func (hm *HealthManager) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		hm.timeout = timeout
	}
}

func (hm *HealthManager) HealthzHandler() http.HandlerFunc {
	return hm.handler(func() probe { return hm.liveness })
}

func (hm *HealthManager) ReadyzHandler() http.HandlerFunc {
	return hm.handler(func() probe { return hm.readiness })
}

// IsHealthy runs the liveness checks outside of HTTP.
func (hm *HealthManager) IsHealthy() bool {
	return hm.evaluate(context.Background(), hm.snapshot(func() probe { return hm.liveness })).Status == StatusHealthy
}

// IsReady runs the readiness checks outside of HTTP.
func (hm *HealthManager) IsReady() bool {
	return hm.evaluate(context.Background(), hm.snapshot(func() probe { return hm.readiness })).Status == StatusReady
}

func (hm *HealthManager) handler(pick func() probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := hm.snapshot(pick)
		resp := hm.evaluate(r.Context(), p)

		code := http.StatusOK
		if resp.Status != p.pass {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			hm.logger.Errorw("Failed to encode probe response", "error", err)
		}
	}
}

func (hm *HealthManager) snapshot(pick func() probe) probe {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	p := pick()
	p.checks = append([]check(nil), p.checks...)
	return p
}

// evaluate runs every check concurrently under the probe timeout. Components
// are reported in registration order; any failure fails the probe.
func (hm *HealthManager) evaluate(ctx context.Context, p probe) ProbeResponse {
	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	components := make([]HealthStatus, len(p.checks))
	var g errgroup.Group
	for i, c := range p.checks {
		i, c := i, c
		g.Go(func() error {
			start := time.Now()
			components[i] = HealthStatus{Name: c.name, Status: p.pass}
			if err := c.fn(ctx); err != nil {
				components[i].Status = p.fail
				components[i].Error = err.Error()
			}
			components[i].Latency = time.Since(start).String()
			return nil
		})
	}
	_ = g.Wait()

	resp := ProbeResponse{Status: p.pass, Timestamp: time.Now(), Components: components}
	for _, c := range components {
		if c.Status == p.fail {
			resp.Status = p.fail
			hm.logger.Warnw("Probe check failed", "probe", p.name, "component", c.Name, "error", c.Error)
		}
	}
	return resp
}
