package api

import (
	"sync"

	"github.com/chrissnell/telematics/internal/types"
)

// RecentAlerts keeps the last N alerts in a ring
type RecentAlerts struct {
	mu    sync.RWMutex
	buf   []types.Alert
	next  int
	full  bool
	total uint64
}

// NewRecentAlerts creates a ring holding up to size alerts
func NewRecentAlerts(size int) *RecentAlerts {
	if size < 1 {
		size = 1
	}
	return &RecentAlerts{buf: make([]types.Alert, size)}
}

// Add records an alert, overwriting the oldest once the ring is full
func (r *RecentAlerts) Add(a types.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = a
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.total++
	return nil
}

// Filter selects which alerts List returns
type Filter struct {
	Kind      types.AlertKind
	VehicleID int
	Limit     int
}

func (f Filter) matches(a types.Alert) bool {
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.VehicleID != 0 && a.VehicleID() != f.VehicleID {
		return false
	}
	return true
}

// List returns matching alerts, newest first
func (r *RecentAlerts) List(f Filter) []types.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.next
	if r.full {
		n = len(r.buf)
	}

	out := make([]types.Alert, 0)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		a := r.buf[idx]
		if !f.matches(a) {
			continue
		}
		out = append(out, a)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Total returns how many alerts have ever been added
func (r *RecentAlerts) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
