// health.go - Component health tracking served on /healthz.
package api

import (
	"sync"
	"time"
)

// HealthStatus classifies a component's condition.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is the health of one protocol component.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth is the aggregate served to callers.
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// HealthChecker runs registered per-component probes on demand.
type HealthChecker struct {
	mu         sync.Mutex
	components map[string]*ComponentHealth
	checkers   map[string]func() error
	startTime  time.Time
	version    string
}

// NewHealthChecker creates a checker reporting the given version string.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*ComponentHealth),
		checkers:   make(map[string]func() error),
		startTime:  time.Now(),
		version:    version,
	}
}

// Register adds a component probe. The probe is run on every CheckHealth
// call; a nil error marks the component healthy.
func (hc *HealthChecker) Register(name string, checker func() error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.components[name] = &ComponentHealth{
		Name:      name,
		Status:    Healthy,
		Message:   "registered",
		LastCheck: time.Now(),
	}
	hc.checkers[name] = checker
}

// CheckHealth probes every registered component and aggregates the result.
func (hc *HealthChecker) CheckHealth() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.components))
	for name, component := range hc.components {
		if checker := hc.checkers[name]; checker != nil {
			start := time.Now()
			err := checker()
			component.Latency = time.Since(start)
			component.LastCheck = time.Now()
			if err != nil {
				component.Status = Unhealthy
				component.Message = err.Error()
			} else {
				component.Status = Healthy
				component.Message = "ok"
			}
		}
		if component.Status == Unhealthy {
			overall = Unhealthy
		} else if component.Status == Degraded && overall == Healthy {
			overall = Degraded
		}
		components = append(components, *component)
	}

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}
