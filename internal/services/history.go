package services

import (
	"sync"

	"github.com/vigilstack/vigil-vmhealth/internal/models"
)

// DefaultRecentLimit caps history queries that do not name a limit.
const DefaultRecentLimit = 100

// AlertHistory keeps the most recently fired alerts in memory, oldest
// dropped first once capacity is reached.
type AlertHistory struct {
	mu      sync.RWMutex
	alerts  []models.Alert
	maxSize int
}

// NewAlertHistory creates a history holding up to maxSize alerts.
func NewAlertHistory(maxSize int) *AlertHistory {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &AlertHistory{maxSize: maxSize}
}

// Append records fired alerts in order.
func (h *AlertHistory) Append(alerts ...models.Alert) {
	if len(alerts) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.alerts = append(h.alerts, alerts...)
	if overflow := len(h.alerts) - h.maxSize; overflow > 0 {
		// Drop oldest alerts to bound memory.
		copy(h.alerts[0:], h.alerts[overflow:])
		h.alerts = h.alerts[:h.maxSize]
	}
}

// Recent returns up to limit alerts ending with the newest. A non-positive
// limit uses DefaultRecentLimit.
func (h *AlertHistory) Recent(limit int) []models.Alert {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit > len(h.alerts) {
		limit = len(h.alerts)
	}
	return append([]models.Alert(nil), h.alerts[len(h.alerts)-limit:]...)
}

// Count returns the number of alerts currently retained.
func (h *AlertHistory) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.alerts)
}
