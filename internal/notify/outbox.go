// Package notify delivers claim notifications. The outbox sink persists them to
// the notifications table, the hub pushes them to connected websocket clients
// and FanOut sends one notification through several sinks.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
)

// Outbox is the persistence the outbox sink writes through. Both repository
// backends implement it.
type Outbox interface {
	InsertNotification(ctx context.Context, n *domain.Notification) error
	UserIDsByRole(ctx context.Context, role string) ([]string, error)
}

// OutboxSink stores notifications so the portal can show them to users.
type OutboxSink struct {
	outbox Outbox
	log    *logrus.Logger
}

// NewOutboxSink creates a sink backed by outbox.
func NewOutboxSink(outbox Outbox, logger *logrus.Logger) *OutboxSink {
	return &OutboxSink{outbox: outbox, log: logger}
}

// NotifyUser stores one notification addressed to userID.
func (s *OutboxSink) NotifyUser(ctx context.Context, userID string, n domain.Notification) error {
	if userID == "" {
		return domain.NewValidationError("user_id", "recipient is required", userID)
	}
	n.UserID = userID
	n.Role = ""
	if err := s.outbox.InsertNotification(ctx, &n); err != nil {
		return fmt.Errorf("storing notification for user %s: %w", userID, err)
	}
	return nil
}

// NotifyRole stores a copy of the notification for every user holding role.
// Every recipient is attempted; failures are joined.
func (s *OutboxSink) NotifyRole(ctx context.Context, role string, n domain.Notification) error {
	ids, err := s.outbox.UserIDsByRole(ctx, role)
	if err != nil {
		return fmt.Errorf("resolving users for role %s: %w", role, err)
	}
	if len(ids) == 0 {
		s.log.WithField("role", role).Debug("No users hold role, notification dropped")
		return nil
	}

	var errs []error
	for _, id := range ids {
		msg := n
		msg.UserID = id
		msg.Role = role
		msg.ID = ""
		if err := s.outbox.InsertNotification(ctx, &msg); err != nil {
			errs = append(errs, fmt.Errorf("storing notification for user %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
