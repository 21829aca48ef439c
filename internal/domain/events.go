package domain

import "time"

// EventType is the stable string identifying a Domain Event.
type EventType string

// EventSchemaVersion is bumped whenever the vocabulary or a payload shape changes.
const EventSchemaVersion = 1

const (
	EventInterviewStarted    EventType = "interview.started"
	EventPhaseChanged        EventType = "interview.phase_changed"
	EventInterviewCompleted  EventType = "interview.completed"
	EventEvaluationCompleted EventType = "evaluation.completed"
	EventEmotionAlert        EventType = "emotion.alert"
	EventTurnIntervention    EventType = "turn.intervention"
	EventReportGenerated     EventType = "report.generated"
	EventStatsAggregated     EventType = "stats.aggregated"
	EventSystemError         EventType = "system.error"
)

// Event is an immutable notification distributed through the event bus.
type Event struct {
	Type      EventType      `json:"event_type"`
	ID        string         `json:"event_id"`
	Version   int            `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	SessionID SessionID      `json:"session_id,omitempty"`
	Origin    string         `json:"origin,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}
