package notify

import (
	"context"
	"errors"

	"github.com/claim-automation-server/internal/domain"
)

// FanOut delivers each notification through every sink. A failing sink does
// not stop the others; their errors are joined.
type FanOut struct {
	sinks []domain.NotificationSink
}

// NewFanOut creates a sink that forwards to sinks in order.
func NewFanOut(sinks ...domain.NotificationSink) *FanOut {
	return &FanOut{sinks: sinks}
}

func (f *FanOut) NotifyUser(ctx context.Context, userID string, n domain.Notification) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.NotifyUser(ctx, userID, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *FanOut) NotifyRole(ctx context.Context, role string, n domain.Notification) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.NotifyRole(ctx, role, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
