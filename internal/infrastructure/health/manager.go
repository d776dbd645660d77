// Package health aggregates component liveness checks for the /healthz surface.
package health

import (
	"sync"

	"omc/internal/core"
)

// Manager runs registered checks on demand and reports per-component status.
type Manager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

var _ core.IHealthMonitor = (*Manager)(nil)

// NewManager builds an empty manager. A nil logger disables check logging.
func NewManager(logger core.ILogger) *Manager {
	m := &Manager{
		checks: make(map[string]func() error),
	}
	if logger != nil {
		m.logger = logger.WithField("component", "health")
	}
	return m
}

// Register adds or replaces the check for a component.
func (m *Manager) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// GetStatus runs every check and reports each component as Healthy or
// Unhealthy with the failure detail.
func (m *Manager) GetStatus() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]string, len(m.checks))
	for component, check := range m.checks {
		if err := check(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
			if m.logger != nil {
				m.logger.Warn("Component unhealthy", "component", component, "error", err)
			}
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy reports whether every registered check passes. An empty manager
// is healthy.
func (m *Manager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, check := range m.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}
