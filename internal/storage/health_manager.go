package storage

import (
	"maps"
	"sync"
	"time"
)

// Health states
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthData is the last known state of one storage engine
type HealthData struct {
	LastCheck time.Time `json:"last_check"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// HealthManager keeps storage health in memory for the API
type HealthManager struct {
	mu     sync.RWMutex
	health map[string]HealthData
}

// NewHealthManager creates a new health manager
func NewHealthManager() *HealthManager {
	return &HealthManager{
		health: make(map[string]HealthData),
	}
}

// UpdateHealth records the health of a storage engine
func (hm *HealthManager) UpdateHealth(engine string, health HealthData) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.health[engine] = health
}

// GetHealth returns the health of one storage engine
func (hm *HealthManager) GetHealth(engine string) (HealthData, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	h, ok := hm.health[engine]
	return h, ok
}

// GetAllHealth returns a copy of every engine's health
func (hm *HealthManager) GetAllHealth() map[string]HealthData {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return maps.Clone(hm.health)
}

// IsHealthy reports whether an engine was healthy within maxAge
func (hm *HealthManager) IsHealthy(engine string, maxAge time.Duration) bool {
	h, ok := hm.GetHealth(engine)
	if !ok || time.Since(h.LastCheck) > maxAge {
		return false
	}
	return h.Status == StatusHealthy
}
