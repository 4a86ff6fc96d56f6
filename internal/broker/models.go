package broker

import (
	"time"

	"connect-platform/internal/calls"
)

// ConnectionRequest is one attempt by a requester to open a session with a counterpart.
//
// Invariants:
// - Rows are never deleted.
// - Status only moves PENDING -> ACCEPTED | MISSED | REJECTED, and terminal states are final.
type ConnectionRequest struct {
	ID            string     `json:"id" db:"id"`
	RequesterID   string     `json:"requester_id" db:"requester_id"`
	CounterpartID string     `json:"counterpart_id" db:"counterpart_id"`
	Mode          calls.Mode `json:"mode" db:"mode"`
	Status        Status     `json:"status" db:"status"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusMissed   Status = "MISSED"
	StatusRejected Status = "REJECTED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusMissed, StatusRejected:
		return true
	default:
		return false
	}
}

// Events delivered over presence channels.
const (
	EventConnectionRequest  = "connectionRequest"
	EventConnectionAccepted = "connectionAccepted"
	EventConnectionReady    = "connectionReady"
	EventConnectionRejected = "connectionRejected"
)

// ResolutionPayload is the body of accepted/ready/rejected events.
type ResolutionPayload struct {
	Message           string            `json:"message"`
	ConnectionRequest ConnectionRequest `json:"connectionRequest"`
}

const (
	messageAccepted = "Your request has been accepted"
	messageReady    = "You are connected to the user"
	messageRejected = "Your request has been declined"
)
