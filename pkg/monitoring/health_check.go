// Package monitoring reports readiness of the stores the realtime core
// depends on.
package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Name       string       `json:"name"`
	Status     HealthStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
	LastCheck  time.Time    `json:"last_check"`
	ResponseMs int64        `json:"response_ms"`
}

// Report is the outcome of one readiness check.
type Report struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
}

// Probe checks one dependency. A nil error is healthy.
type Probe struct {
	Name string
	// SlowAfter marks a successful probe degraded when it takes longer.
	SlowAfter time.Duration
	Check     func(ctx context.Context) error
}

// DatabaseProbe pings the database and runs a trivial query.
func DatabaseProbe(db *sql.DB) Probe {
	return Probe{
		Name:      "database",
		SlowAfter: 100 * time.Millisecond,
		Check: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
			var one int
			if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
				return fmt.Errorf("query test failed: %w", err)
			}
			return nil
		},
	}
}

// RedisProbe pings the lock store's redis.
func RedisProbe(rdb *redis.Client) Probe {
	return Probe{
		Name:      "redis",
		SlowAfter: 50 * time.Millisecond,
		Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	}
}

// HealthChecker runs probes and caches the report briefly so probes from
// load balancers do not hammer the stores.
type HealthChecker struct {
	mu            sync.Mutex
	probes        []Probe
	timeout       time.Duration
	cacheDuration time.Duration
	lastCheckTime time.Time
	cached        *Report
	now           func() time.Time
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(probes ...Probe) *HealthChecker {
	return &HealthChecker{
		probes:        probes,
		timeout:       5 * time.Second,
		cacheDuration: 5 * time.Second,
		now:           time.Now,
	}
}

// Check runs every probe, or returns the cached report while it is fresh.
func (hc *HealthChecker) Check(ctx context.Context) Report {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.cached != nil && hc.now().Sub(hc.lastCheckTime) < hc.cacheDuration {
		return *hc.cached
	}

	report := Report{
		Status:     HealthStatusHealthy,
		Timestamp:  hc.now(),
		Components: make([]ComponentHealth, 0, len(hc.probes)),
	}
	for _, p := range hc.probes {
		comp := hc.run(ctx, p)
		report.Components = append(report.Components, comp)
		switch {
		case comp.Status == HealthStatusUnhealthy:
			report.Status = HealthStatusUnhealthy
		case comp.Status == HealthStatusDegraded && report.Status != HealthStatusUnhealthy:
			report.Status = HealthStatusDegraded
		}
	}

	hc.cached = &report
	hc.lastCheckTime = hc.now()
	return report
}

func (hc *HealthChecker) run(ctx context.Context, p Probe) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	start := time.Now()
	err := p.Check(ctx)
	comp := ComponentHealth{
		Name:       p.Name,
		Status:     HealthStatusHealthy,
		LastCheck:  hc.now(),
		ResponseMs: time.Since(start).Milliseconds(),
	}
	switch {
	case err != nil:
		comp.Status = HealthStatusUnhealthy
		comp.Message = err.Error()
	case p.SlowAfter > 0 && time.Since(start) > p.SlowAfter:
		comp.Status = HealthStatusDegraded
		comp.Message = fmt.Sprintf("%s response slow: %dms", p.Name, comp.ResponseMs)
	}
	return comp
}

// Ready reports whether no probe is unhealthy. Degraded still serves.
func (hc *HealthChecker) Ready(ctx context.Context) bool {
	return hc.Check(ctx).Status != HealthStatusUnhealthy
}
