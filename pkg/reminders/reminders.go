// Package reminders is the scheduler hook: it enumerates pending
// documents whose deadline is close and expires the ones whose
// deadline has passed. An in-process ticker drives it; an external
// scheduler may call the same two operations instead.
package reminders

import (
	"context"
	"log/slog"
	"time"

	"github.com/assinado-app/assinado/pkg/documents"
	"github.com/assinado-app/assinado/pkg/signers"
)

// reminderWindow is how far ahead of a deadline reminders go out.
const reminderWindow = 24 * time.Hour

// Scheduler runs the deadline sweeps.
type Scheduler struct {
	docs    *documents.Store
	docsSvc *documents.Service
	signers *signers.Service
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Scheduler)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(docs *documents.Store, docsSvc *documents.Service,
	signerSvc *signers.Service, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		docs:    docs,
		docsSvc: docsSvc,
		signers: signerSvc,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DueReminders returns the pending documents with auto reminders on
// whose deadline falls within the next 24 hours.
func (s *Scheduler) DueReminders(ctx context.Context, now time.Time) ([]*documents.Document, error) {
	return s.docs.ListDeadlineWithin(ctx, now, now.Add(reminderWindow))
}

// RunReminders delivers a reminder to every pending signer of every
// due document. Delivery failures never stop the sweep.
func (s *Scheduler) RunReminders(ctx context.Context, now time.Time) error {
	due, err := s.DueReminders(ctx, now)
	if err != nil {
		return err
	}
	for _, doc := range due {
		sent, err := s.signers.SendReminders(ctx, doc)
		if err != nil {
			s.logger.Warn("reminder sweep failed for document", "documentId", doc.ID, "error", err)
			continue
		}
		s.logger.Info("reminders sent", "documentId", doc.ID, "signers", sent)
	}
	return nil
}

// ExpireOverdue transitions every pending document whose deadline has
// passed to EXPIRED and returns how many moved.
func (s *Scheduler) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.docs.ListOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, doc := range overdue {
		if err := s.docsSvc.ExpireAsSystem(ctx, doc); err != nil {
			s.logger.Warn("failed to expire document", "documentId", doc.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

// Loop runs both sweeps on every tick until ctx is done.
func (s *Scheduler) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.now().UTC()
			if _, err := s.ExpireOverdue(ctx, now); err != nil {
				s.logger.Warn("expire sweep failed", "error", err)
			}
			if err := s.RunReminders(ctx, now); err != nil {
				s.logger.Warn("reminder sweep failed", "error", err)
			}
		}
	}
}
