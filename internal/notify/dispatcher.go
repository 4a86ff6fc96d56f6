// Package notify delivers best-effort push notifications.
//
// Delivery never blocks or fails the caller: errors are logged here and dropped.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notification is a provider-agnostic push message.
type Notification struct {
	RecipientID string            `json:"recipient_id"`
	Role        string            `json:"role"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
}

// Sender hands a notification to a push provider.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

const defaultSendTimeout = 5 * time.Second

// Dispatcher sends notifications asynchronously.
type Dispatcher struct {
	sender  Sender
	log     *slog.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(sender Sender, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{sender: sender, log: log, timeout: defaultSendTimeout}
}

// Send queues n for delivery and returns immediately.
// The caller's cancellation does not abort delivery.
func (d *Dispatcher) Send(ctx context.Context, n Notification) {
	if d == nil || d.sender == nil || n.RecipientID == "" {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.sender.Send(sendCtx, n); err != nil {
			d.log.Warn("push notification failed", "recipient_id", n.RecipientID, "title", n.Title, "err", err)
		}
	}()
}

// Wait blocks until in-flight sends finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// LogSender writes notifications to the log instead of a push provider.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(ctx context.Context, n Notification) error {
	l := s.Log
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "push notification", "recipient_id", n.RecipientID, "role", n.Role, "title", n.Title)
	return nil
}
