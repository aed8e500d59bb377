// Package sync owns the polling state machine that decides, at any instant,
// whether to push local state to the remote document, pull the remote into
// the local stores, or do nothing.
package sync

import "time"

// State is the orchestrator's position in its lifecycle.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateIdle           State = "idle"
	StatePulling        State = "pulling"
	StatePushing        State = "pushing"
	StatePausedConflict State = "paused_conflict"
)

// Status is the externally visible snapshot of the sync session.
type Status struct {
	State         State     `json:"state"`
	Display       string    `json:"display"`
	LastError     string    `json:"lastError,omitempty"`
	LastSyncAt    time.Time `json:"lastSyncAt,omitempty"`
	LocalVersion  string    `json:"localVersion,omitempty"`
	RemoteVersion string    `json:"remoteVersion,omitempty"`
	FileID        string    `json:"fileId,omitempty"`
	PendingPush   bool      `json:"pendingPush"`
}

// display maps a state to the user-facing label.
func display(s State, lastErr string) string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StatePulling, StatePushing:
		return "Syncing"
	case StatePausedConflict:
		return "Paused-Conflict"
	case StateIdle:
		if lastErr != "" {
			return "Error"
		}
		return "Connected"
	default:
		return string(s)
	}
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
