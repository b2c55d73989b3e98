package session

import (
	"time"

	"github.com/suPer8Hu/ai-salesbot/internal/events"
)

type Status string

const (
	StatusInitializing   Status = "INITIALIZING"
	StatusWaitingPairing Status = "WAITING_PAIRING"
	StatusAuthenticated  Status = "AUTHENTICATED"
	StatusConnected      Status = "CONNECTED"
	StatusAuthFailure    Status = "AUTH_FAILURE"
	StatusError          Status = "ERROR"
	StatusDisconnected   Status = "DISCONNECTED"
)

// Terminal states end a manager instance. Only a new Registry.Create
// brings the session back.
func (s Status) Terminal() bool {
	switch s {
	case StatusAuthFailure, StatusError, StatusDisconnected:
		return true
	}
	return false
}

// ActiveStatuses are the durable statuses resumed by Recover: the session
// had valid credentials when the process went away.
var ActiveStatuses = []Status{StatusAuthenticated, StatusConnected}

var transitions = map[Status][]Status{
	StatusInitializing: {
		StatusWaitingPairing, StatusAuthenticated,
		StatusAuthFailure, StatusError, StatusDisconnected,
	},
	StatusWaitingPairing: {
		// a refreshed pairing code re-enters the same state
		StatusWaitingPairing, StatusAuthenticated,
		StatusAuthFailure, StatusError, StatusDisconnected,
	},
	StatusAuthenticated: {StatusConnected, StatusAuthFailure, StatusDisconnected},
	StatusConnected:     {StatusAuthFailure, StatusDisconnected},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Snapshot is the manager's view of its session. It holds no pointers, so a
// copy is immutable for the caller.
type Snapshot struct {
	SessionID    string    `json:"session_id"`
	OwnerUserID  uint64    `json:"owner_user_id"`
	Status       Status    `json:"status"`
	PairingCode  string    `json:"pairing_code,omitempty"`
	Ready        bool      `json:"ready"`
	Error        string    `json:"error,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

func eventKind(s Status) string {
	switch s {
	case StatusInitializing:
		return events.KindInitializing
	case StatusWaitingPairing:
		return events.KindPairing
	case StatusAuthenticated:
		return events.KindAuthenticated
	case StatusConnected:
		return events.KindReady
	case StatusAuthFailure:
		return events.KindAuthFailure
	case StatusError:
		return events.KindError
	default:
		return events.KindDisconnected
	}
}

type statePayload struct {
	Status Status `json:"status"`
	QR     string `json:"qr,omitempty"`
	Ready  bool   `json:"ready"`
	Type   string `json:"type,omitempty"`
	Error  string `json:"error,omitempty"`
}

func payloadFor(s Snapshot) statePayload {
	p := statePayload{Status: s.Status, QR: s.PairingCode, Ready: s.Ready, Error: s.Error}
	if s.Status == StatusError {
		p.Type = "INITIALIZATION_ERROR"
	}
	return p
}
