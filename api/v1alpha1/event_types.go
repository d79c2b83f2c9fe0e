package v1alpha1

import "time"

type EventType string

const (
	EventRegistered   EventType = "registered"
	EventUnregistered EventType = "unregistered"
	EventLoading      EventType = "loading"
	EventLoaded       EventType = "loaded"
	EventError        EventType = "error"
	EventActivated    EventType = "activated"
	EventDeactivated  EventType = "deactivated"
	EventUnloaded     EventType = "unloaded"
)

// Event is a module lifecycle notification.
type Event struct {
	Type     EventType `json:"type"`
	ModuleID string    `json:"moduleId"`
	Time     time.Time `json:"time"`
	// Error carries the failure message for EventError.
	Error string `json:"error,omitempty"`
}

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthReport is the result of a module health check.
type HealthReport struct {
	ModuleID  string       `json:"moduleId"`
	Status    HealthStatus `json:"status"`
	Issues    []string     `json:"issues,omitempty"`
	CheckedAt time.Time    `json:"checkedAt"`
}
