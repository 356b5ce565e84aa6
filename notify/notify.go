// Package notify delivers rendered subscription results.
//
// A Notifier gets one Notification per subscription and run. Implementations
// are the monitor backend webhook and a Kafka topic. Fanout sends to one
// primary target, whose result alone decides whether documents are consumed,
// and copies to secondary targets whose failures are only logged.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Notification is the rendered result of one subscription.
type Notification struct {
	RunID          string `json:"run_id,omitempty"`
	SubscriptionID string `json:"event_id"`
	Type           string `json:"type"`
	Content        string `json:"content"`            // sanitized HTML
	Markdown       string `json:"markdown,omitempty"` // same content for text channels
	Documents      int    `json:"documents"`
	Matches        int    `json:"matches"`
}

// Notifier delivers a notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// ErrSendFailed is returned when a notification could not be delivered.
type ErrSendFailed struct {
	Notifier       string
	SubscriptionID string
	Cause          error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("notify: send failed on %s (event %s): %v", e.Notifier, e.SubscriptionID, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }

// Fanout delivers to Primary, then copies to every Secondary. Only the
// primary result is returned: a secondary that is down never causes the
// primary to receive the same notification again on the next run.
type Fanout struct {
	Primary   Notifier
	Secondary []Notifier
	Logger    *slog.Logger
}

// Notify sends n to the primary. Secondaries are tried only when the primary
// accepted n.
func (f Fanout) Notify(ctx context.Context, n Notification) error {
	if err := f.Primary.Notify(ctx, n); err != nil {
		return err
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, s := range f.Secondary {
		if err := s.Notify(ctx, n); err != nil {
			logger.Warn("notify: secondary target failed", "event_id", n.SubscriptionID, "error", err)
		}
	}
	return nil
}

// Discard accepts and drops every notification.
type Discard struct{}

// Notify does nothing.
func (Discard) Notify(context.Context, Notification) error { return nil }
