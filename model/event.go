package model

import "time"

type EventKind string

const (
	EVENT_TRANSITION_OCCURRED EventKind = "TransitionOccurred"
	EVENT_SLA_BREACHED        EventKind = "SlaBreached"
	EVENT_VOTE_CAST           EventKind = "VoteCast"
	EVENT_REVIEW_DECIDED      EventKind = "ReviewDecided"
)

type Event struct {
	Id         string         `json:"id"`
	Kind       EventKind      `json:"kind"`
	EntityId   string         `json:"entityId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload"`
	Attempts   int            `json:"attempts"`
}

type AuditEntry struct {
	EntityType string    `json:"entityType"`
	EntityId   string    `json:"entityId"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
	Before     any       `json:"before,omitempty"`
	After      any       `json:"after,omitempty"`
}
