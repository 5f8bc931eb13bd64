package domain

import "time"

// EventType names an optimizer event.
type EventType string

const (
	EventOptimizationStarted   EventType = "optimization.started"
	EventOptimizationCompleted EventType = "optimization.completed"
	EventOptimizationFailed    EventType = "optimization.failed"
	EventPlanCommitted         EventType = "plan.committed"
	EventStateReset            EventType = "state.reset"
)

// Event is published on optimizer lifecycle changes.
type Event struct {
	Type         EventType      `json:"type"`
	DatacenterID string         `json:"datacenter_id"`
	SessionID    string         `json:"session_id,omitempty"`
	PlanID       string         `json:"plan_id,omitempty"`
	Message      string         `json:"message,omitempty"`
	Plan         *MigrationPlan `json:"plan,omitempty"`
	Time         time.Time      `json:"time"`
}
