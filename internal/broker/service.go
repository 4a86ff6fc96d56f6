package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"connect-platform/internal/calls"
	"connect-platform/internal/notify"
	"connect-platform/internal/observability"
	"connect-platform/internal/presence"

	"github.com/google/uuid"
)

// RequestTimeout is how long a counterpart has to answer before a request becomes MISSED.
const RequestTimeout = 30 * time.Second

// expiryTimeout bounds the store work done when a timer fires.
const expiryTimeout = 10 * time.Second

// Presence resolves the live channel of a participant.
type Presence interface {
	Lookup(participantID string, role presence.Role) (presence.Channel, bool)
}

// Notifier pushes best-effort notifications. Send must not block.
type Notifier interface {
	Send(ctx context.Context, n notify.Notification)
}

type Deps struct {
	Store        Store
	Availability Availability
	Presence     Presence

	// Optional.
	Notifier  Notifier
	Scheduler Scheduler
	Logger    *slog.Logger
}

// Service runs the connection request lifecycle.
//
// Resolution is decided by the store's compare-and-set: whichever of accept,
// reject or expiry applies first wins and the others observe a conflict or no-op.
type Service struct {
	store    Store
	avail    Availability
	presence Presence
	notifier Notifier
	sched    Scheduler
	log      *slog.Logger

	// clock and newID are injectable for deterministic tests.
	clock func() time.Time
	newID func() string

	mu     sync.Mutex
	timers map[string]Timer
	closed bool
}

func NewService(d Deps) *Service {
	s := &Service{
		store:    d.Store,
		avail:    d.Availability,
		presence: d.Presence,
		notifier: d.Notifier,
		sched:    d.Scheduler,
		log:      d.Logger,
		clock:    time.Now,
		newID:    uuid.NewString,
		timers:   make(map[string]Timer),
	}
	if s.sched == nil {
		s.sched = realScheduler{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// CreateRequest opens a PENDING request to an available counterpart and starts its expiry timer.
func (s *Service) CreateRequest(ctx context.Context, requesterID, counterpartID string, mode calls.Mode) (ConnectionRequest, error) {
	if requesterID == "" || counterpartID == "" || requesterID == counterpartID {
		return ConnectionRequest{}, ErrInvalidArgument
	}
	if !mode.Valid() {
		return ConnectionRequest{}, fmt.Errorf("%w: unsupported mode %q", ErrInvalidArgument, mode)
	}

	ok, err := s.avail.IsAvailable(ctx, counterpartID)
	if err != nil {
		return ConnectionRequest{}, fmt.Errorf("broker: check availability: %w", err)
	}
	if !ok {
		return ConnectionRequest{}, ErrUnavailable
	}

	now := s.clock().UTC()
	req := ConnectionRequest{
		ID:            s.newID(),
		RequesterID:   requesterID,
		CounterpartID: counterpartID,
		Mode:          mode,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return ConnectionRequest{}, fmt.Errorf("broker: create request: %w", err)
	}

	s.scheduleExpiry(req.ID, RequestTimeout)

	s.deliver(req.CounterpartID, presence.RoleCounterpart, EventConnectionRequest, req)
	s.push(ctx, notify.Notification{
		RecipientID: req.CounterpartID,
		Role:        string(presence.RoleCounterpart),
		Title:       "New connection request",
		Body:        fmt.Sprintf("Someone wants to start a %s", modeLabel(mode)),
		Data:        map[string]string{"requestId": req.ID, "mode": string(mode)},
	})

	observability.RecordConnectionRequest(string(mode), string(StatusPending))
	s.log.InfoContext(ctx, "connection request created",
		"request_id", req.ID, "requester_id", requesterID, "counterpart_id", counterpartID, "mode", mode)
	return req, nil
}

// GetRequest returns the stored request or ErrNotFound.
func (s *Service) GetRequest(ctx context.Context, requestID string) (ConnectionRequest, error) {
	if requestID == "" {
		return ConnectionRequest{}, ErrInvalidArgument
	}
	return s.store.GetRequest(ctx, requestID)
}

// AcceptRequest moves a PENDING request to ACCEPTED and notifies both sides.
func (s *Service) AcceptRequest(ctx context.Context, requestID string) (ConnectionRequest, error) {
	req, err := s.pending(ctx, requestID)
	if err != nil {
		return ConnectionRequest{}, err
	}

	ok, err := s.avail.IsAvailable(ctx, req.CounterpartID)
	if err != nil {
		return ConnectionRequest{}, fmt.Errorf("broker: check availability: %w", err)
	}
	if !ok {
		return ConnectionRequest{}, fmt.Errorf("%w: counterpart is no longer available", ErrConflict)
	}

	updated, err := s.resolve(ctx, requestID, StatusAccepted)
	if err != nil {
		return ConnectionRequest{}, err
	}

	s.deliver(updated.RequesterID, presence.RoleRequester, EventConnectionAccepted,
		ResolutionPayload{Message: messageAccepted, ConnectionRequest: updated})
	s.deliver(updated.CounterpartID, presence.RoleCounterpart, EventConnectionReady,
		ResolutionPayload{Message: messageReady, ConnectionRequest: updated})
	s.push(ctx, notify.Notification{
		RecipientID: updated.RequesterID,
		Role:        string(presence.RoleRequester),
		Title:       "Request accepted",
		Body:        messageAccepted,
		Data:        map[string]string{"requestId": updated.ID},
	})

	s.log.InfoContext(ctx, "connection request accepted", "request_id", updated.ID)
	return updated, nil
}

// RejectRequest moves a PENDING request to REJECTED and tells the requester.
func (s *Service) RejectRequest(ctx context.Context, requestID string) (ConnectionRequest, error) {
	if _, err := s.pending(ctx, requestID); err != nil {
		return ConnectionRequest{}, err
	}

	updated, err := s.resolve(ctx, requestID, StatusRejected)
	if err != nil {
		return ConnectionRequest{}, err
	}

	s.deliver(updated.RequesterID, presence.RoleRequester, EventConnectionRejected,
		ResolutionPayload{Message: messageRejected, ConnectionRequest: updated})

	s.log.InfoContext(ctx, "connection request rejected", "request_id", updated.ID)
	return updated, nil
}

// Expire marks a request MISSED if it is still PENDING and records a missed call.
// It reports whether this call performed the transition; a request that was
// already resolved is left untouched.
func (s *Service) Expire(ctx context.Context, requestID string) (ConnectionRequest, bool, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return ConnectionRequest{}, false, err
	}
	if req.Status != StatusPending {
		return req, false, nil
	}

	now := s.clock().UTC()
	missed := calls.MissedCall{
		ID:            s.newID(),
		RequestID:     req.ID,
		RequesterID:   req.RequesterID,
		CounterpartID: req.CounterpartID,
		Mode:          req.Mode,
		CreatedAt:     now,
	}
	updated, applied, err := s.store.MarkMissed(ctx, requestID, missed)
	if err != nil {
		return ConnectionRequest{}, false, fmt.Errorf("broker: mark missed: %w", err)
	}
	if !applied {
		return updated, false, nil
	}

	observability.RecordConnectionRequest(string(updated.Mode), string(StatusMissed))
	s.push(ctx, notify.Notification{
		RecipientID: updated.CounterpartID,
		Role:        string(presence.RoleCounterpart),
		Title:       "Missed connection request",
		Body:        fmt.Sprintf("You missed a %s", modeLabel(updated.Mode)),
		Data:        map[string]string{"requestId": updated.ID},
	})
	s.log.InfoContext(ctx, "connection request missed", "request_id", updated.ID)
	return updated, true, nil
}

// ListMissedCalls returns the most recent missed calls involving participantID.
func (s *Service) ListMissedCalls(ctx context.Context, participantID string, limit int) ([]calls.MissedCall, error) {
	if participantID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListMissedCalls(ctx, participantID, limit)
}

// RecoverPending re-arms expiry timers for requests left PENDING by a previous process.
// Requests already past their deadline are expired immediately.
func (s *Service) RecoverPending(ctx context.Context) (int, error) {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("broker: list pending: %w", err)
	}
	now := s.clock()
	for _, r := range pending {
		remaining := r.CreatedAt.Add(RequestTimeout).Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		s.scheduleExpiry(r.ID, remaining)
	}
	if len(pending) > 0 {
		s.log.InfoContext(ctx, "re-armed pending connection requests", "count", len(pending))
	}
	return len(pending), nil
}

// Close stops every outstanding expiry timer. Requests stay PENDING in the store
// and are picked up again by RecoverPending.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) pending(ctx context.Context, requestID string) (ConnectionRequest, error) {
	if requestID == "" {
		return ConnectionRequest{}, ErrInvalidArgument
	}
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ConnectionRequest{}, err
		}
		return ConnectionRequest{}, fmt.Errorf("broker: load request: %w", err)
	}
	if req.Status != StatusPending {
		return ConnectionRequest{}, fmt.Errorf("%w: status is %s", ErrConflict, req.Status)
	}
	return req, nil
}

func (s *Service) resolve(ctx context.Context, requestID string, to Status) (ConnectionRequest, error) {
	updated, applied, err := s.store.TransitionStatus(ctx, requestID, StatusPending, to, s.clock().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ConnectionRequest{}, err
		}
		return ConnectionRequest{}, fmt.Errorf("broker: transition to %s: %w", to, err)
	}
	if !applied {
		return ConnectionRequest{}, fmt.Errorf("%w: status is %s", ErrConflict, updated.Status)
	}
	s.cancelExpiry(requestID)
	observability.RecordConnectionRequest(string(updated.Mode), string(to))
	return updated, nil
}

func (s *Service) scheduleExpiry(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prev, ok := s.timers[id]; ok {
		prev.Stop()
	}
	s.timers[id] = s.sched.AfterFunc(d, func() { s.onTimer(id) })
}

func (s *Service) cancelExpiry(id string) {
	s.mu.Lock()
	t, ok := s.timers[id]
	delete(s.timers, id)
	s.mu.Unlock()
	if ok {
		t.Stop()
	}
}

func (s *Service) onTimer(id string) {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), expiryTimeout)
	defer cancel()
	if _, _, err := s.Expire(ctx, id); err != nil {
		s.log.Error("connection request expiry failed", "request_id", id, "err", err)
	}
}

// deliver pushes an event to a live channel. An offline participant is not an error.
func (s *Service) deliver(participantID string, role presence.Role, event string, payload any) {
	if s.presence == nil {
		return
	}
	ch, ok := s.presence.Lookup(participantID, role)
	if !ok {
		s.log.Debug("participant offline, event not delivered", "participant_id", participantID, "role", role, "event", event)
		return
	}
	if err := ch.Send(event, payload); err != nil {
		s.log.Warn("event delivery failed", "participant_id", participantID, "role", role, "event", event, "err", err)
	}
}

func (s *Service) push(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Send(ctx, n)
}

func (s *Service) pendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func modeLabel(m calls.Mode) string {
	switch m {
	case calls.ModeVoiceCall:
		return "voice call"
	case calls.ModeVideoCall:
		return "video call"
	default:
		return "chat"
	}
}
