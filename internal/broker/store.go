package broker

import (
	"context"
	"errors"
	"time"

	"connect-platform/internal/calls"
)

var (
	ErrInvalidArgument = errors.New("broker: invalid argument")
	ErrNotFound        = errors.New("broker: connection request not found")
	ErrUnavailable     = errors.New("broker: counterpart unavailable")
	ErrConflict        = errors.New("broker: connection request already resolved")
)

// Store is the persistence contract for connection requests and missed calls.
//
// Every status change goes through a compare-and-set on the current status, so
// concurrent accept/reject/expiry calls resolve a request exactly once.
type Store interface {
	CreateRequest(ctx context.Context, r ConnectionRequest) error

	// GetRequest returns ErrNotFound for unknown ids.
	GetRequest(ctx context.Context, id string) (ConnectionRequest, error)

	// TransitionStatus moves the request from -> to if and only if its current status is from.
	// It returns the request as stored after the call and whether this call applied the change.
	TransitionStatus(ctx context.Context, id string, from, to Status, at time.Time) (ConnectionRequest, bool, error)

	// MarkMissed moves PENDING -> MISSED and records missed in one atomic step.
	// missed is written only if the transition applies.
	MarkMissed(ctx context.Context, id string, missed calls.MissedCall) (ConnectionRequest, bool, error)

	// ListPending returns every request still PENDING, oldest first.
	ListPending(ctx context.Context) ([]ConnectionRequest, error)

	// ListMissedCalls returns missed calls where participantID is either side, newest first.
	ListMissedCalls(ctx context.Context, participantID string, limit int) ([]calls.MissedCall, error)
}

// Availability reports whether a counterpart is online and not busy.
type Availability interface {
	IsAvailable(ctx context.Context, counterpartID string) (bool, error)
}
