// Package health tracks process health for the liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/devrev/tierbot/internal/model"
	"go.uber.org/zap"
)

// Check statuses
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Pinger reports whether a dependency is usable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker runs periodic checks for the bot process
type HealthChecker struct {
	config *HealthCheckConfig
	store  Pinger
	logger *zap.Logger

	mu          sync.RWMutex
	lastCheck   time.Time
	status      model.ServiceStatus
	checks      map[string]CheckResult
	readinessOK bool
	draining    bool
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	// DataDir is checked for writability. Empty skips the check.
	DataDir  string
	Mode     string
	Interval time.Duration
	Timeout  time.Duration
}

// NewHealthChecker creates a new health checker. store may be nil.
func NewHealthChecker(cfg *HealthCheckConfig, store Pinger, logger *zap.Logger) *HealthChecker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &HealthChecker{
		config: cfg,
		store:  store,
		logger: logger,
		checks: make(map[string]CheckResult),
		status: model.ServiceStatusHealthy,
	}
}

// Start runs checks until ctx is cancelled
func (h *HealthChecker) Start(ctx context.Context) error {
	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	h.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			h.RunChecks(ctx)
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return nil
		}
	}
}

// RunChecks runs every check once and updates the aggregate status
func (h *HealthChecker) RunChecks(ctx context.Context) {
	checks := []func(context.Context) CheckResult{
		h.checkDataDirWritable,
		h.checkStore,
	}

	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		results = append(results, check(ctx))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = time.Now()

	allHealthy := true
	allReady := true
	for _, result := range results {
		h.checks[result.Name] = result
		if result.Status != StatusHealthy {
			allHealthy = false
			if result.Status == StatusCritical {
				allReady = false
			}
		}
	}

	switch {
	case !allReady:
		h.status = model.ServiceStatusUnhealthy
	case !allHealthy:
		h.status = model.ServiceStatusDegraded
	default:
		h.status = model.ServiceStatusHealthy
	}
	h.readinessOK = allReady

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("readiness", h.readinessOK))
}

// checkDataDirWritable checks that the entitlement file can be replaced
func (h *HealthChecker) checkDataDirWritable(ctx context.Context) CheckResult {
	const name = "data_dir_writable"

	if h.config.DataDir == "" {
		return CheckResult{Name: name, Status: StatusHealthy, Message: "No data directory in use", Timestamp: time.Now()}
	}

	info, err := os.Stat(h.config.DataDir)
	if err != nil {
		return CheckResult{Name: name, Status: StatusCritical, Message: fmt.Sprintf("Data directory not accessible: %v", err), Timestamp: time.Now()}
	}
	if !info.IsDir() {
		return CheckResult{Name: name, Status: StatusCritical, Message: "Data path is not a directory", Timestamp: time.Now()}
	}

	f, err := os.CreateTemp(h.config.DataDir, ".health_check_*")
	if err != nil {
		return CheckResult{Name: name, Status: StatusCritical, Message: fmt.Sprintf("Cannot write to data directory: %v", err), Timestamp: time.Now()}
	}
	f.Close()
	os.Remove(f.Name())

	return CheckResult{Name: name, Status: StatusHealthy, Message: "Data directory is writable", Timestamp: time.Now()}
}

// checkStore pings the entitlement store. A failing
// store degrades the process; reads are still served from memory.
func (h *HealthChecker) checkStore(ctx context.Context) CheckResult {
	const name = "entitlement_store"

	if h.store == nil {
		return CheckResult{Name: name, Status: StatusHealthy, Message: "No store registered", Timestamp: time.Now()}
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		return CheckResult{Name: name, Status: StatusWarning, Message: fmt.Sprintf("Store unhealthy: %v", err), Timestamp: time.Now()}
	}
	return CheckResult{Name: name, Status: StatusHealthy, Message: "Store reachable", Timestamp: time.Now()}
}

// IsReady returns whether the process should receive traffic
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK && !h.draining
}

// GetStatus returns the current health status
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return model.HealthStatus{
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
		Mode:      h.config.Mode,
	}
}

// GetChecks returns a copy of all check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetDraining marks the process as shutting down
func (h *HealthChecker) SetDraining() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.draining = true
}

// LivenessHandler answers while the process can serve HTTP at all
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy": true,
		"status":  status.Status,
		"mode":    status.Mode,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":  ready,
		"status": status.Status,
		"checks": h.GetChecks(),
	})
}
