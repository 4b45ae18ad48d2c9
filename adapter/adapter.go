// Package adapter publishes reload notifications to downstream systems.
//
// The agent owns adapter lifecycle; operators provide configuration only.
// Notifications are best effort: a failed publish is logged and counted but
// never changes the response sent to the requesting client.
package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/frr-agent/types"
)

// EventTypeReloadCompleted is the event_type of every notification.
const EventTypeReloadCompleted = "reload_completed"

// ReloadCompletedEvent is the payload published after each orchestrated reload.
// Forced successes and keepalives are not published.
type ReloadCompletedEvent struct {
	EventID      string `json:"event_id" msgpack:"event_id"`
	EventType    string `json:"event_type" msgpack:"event_type"` // always "reload_completed"
	AgentVersion string `json:"agent_version" msgpack:"agent_version"`
	GenID        int64  `json:"genid" msgpack:"genid"`
	Outcome      string `json:"outcome" msgpack:"outcome"` // success, validation_failed, etc.
	Phase        string `json:"phase,omitempty" msgpack:"phase,omitempty"`
	ExitCode     int    `json:"exit_code" msgpack:"exit_code"`
	Message      string `json:"message" msgpack:"message"` // the status string sent to the client
	Timestamp    string `json:"timestamp" msgpack:"timestamp"` // RFC 3339
	DurationMs   int64  `json:"duration_ms" msgpack:"duration_ms"`
}

// NewReloadCompletedEvent builds the notification for one reload outcome.
func NewReloadCompletedEvent(genID types.GenID, outcome *types.ReloadOutcome, message string, at time.Time) *ReloadCompletedEvent {
	event := &ReloadCompletedEvent{
		EventID:      uuid.NewString(),
		EventType:    EventTypeReloadCompleted,
		AgentVersion: types.Version,
		GenID:        int64(genID),
		Message:      message,
		Timestamp:    at.UTC().Format(time.RFC3339),
		ExitCode:     -1,
	}
	if outcome != nil {
		event.Outcome = string(outcome.Status)
		event.Phase = string(outcome.Phase)
		event.ExitCode = outcome.ExitCode
		event.DurationMs = outcome.Duration.Milliseconds()
	}
	return event
}

// Adapter publishes reload events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *ReloadCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
