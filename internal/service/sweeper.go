package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
)

// SweepResult summarizes one monitoring pass.
type SweepResult struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Scanned     int       `json:"scanned"`
	Resubmitted int       `json:"resubmitted"`
	Escalated   int       `json:"escalated"`
	FollowUps   int       `json:"follow_ups"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
}

// Sweeper runs the periodic monitoring pass. Passes may overlap: the per-claim
// compare-and-set makes a second resubmission of the same claim a conflict,
// which is counted as skipped.
type Sweeper struct {
	monitor       *Monitor
	logger        *logrus.Logger
	maxRejections int
}

// NewSweeper creates a sweeper over monitor.
func NewSweeper(monitor *Monitor, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		monitor:       monitor,
		logger:        logger,
		maxRejections: monitor.config.MaxRejections,
	}
}

// Run performs one pass: resubmit rejected claims, escalate special cases and
// remind doctors about stale submissions. Per-claim failures are counted and
// logged; only a failed scan aborts the pass.
func (s *Sweeper) Run(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{StartedAt: s.monitor.now()}

	report, err := s.monitor.ScanForAttention(ctx)
	if err != nil {
		return nil, err
	}
	result.Scanned = report.Scanned

	for _, c := range report.NeedsResubmission {
		if ctx.Err() != nil {
			break
		}
		// past the rejection limit a human decides, not another automatic attempt.
		// The claim stays rejected, so every pass escalates it again until someone acts.
		if c.RejectionCount > s.maxRejections {
			s.logger.WithFields(logrus.Fields{
				"claim_id":        c.ID,
				"rejection_count": c.RejectionCount,
			}).Info("Rejection limit reached, escalating instead of resubmitting")
			s.escalate(ctx, c, result)
			continue
		}
		_, err := s.monitor.AutoResubmit(ctx, c.ID)
		switch {
		case err == nil:
			result.Resubmitted++
		case domain.IsConflict(err):
			result.Skipped++
			s.logger.WithField("claim_id", c.ID).Debug("Claim changed during sweep, skipping resubmission")
		default:
			result.Failed++
			s.logger.WithFields(logrus.Fields{
				"claim_id": c.ID,
				"error":    err,
			}).Error("Automatic resubmission failed")
		}
	}

	for _, c := range report.SpecialCases {
		if ctx.Err() != nil {
			break
		}
		s.escalate(ctx, c, result)
	}

	for _, c := range report.NeedsFollowUp {
		if ctx.Err() != nil {
			break
		}
		if s.monitor.SendFollowUp(ctx, c) {
			result.FollowUps++
		}
	}

	result.FinishedAt = s.monitor.now()
	s.logger.WithFields(logrus.Fields{
		"scanned":     result.Scanned,
		"resubmitted": result.Resubmitted,
		"escalated":   result.Escalated,
		"follow_ups":  result.FollowUps,
		"skipped":     result.Skipped,
		"failed":      result.Failed,
		"duration":    result.FinishedAt.Sub(result.StartedAt).String(),
	}).Info("Monitoring sweep completed")

	return result, ctx.Err()
}

func (s *Sweeper) escalate(ctx context.Context, c *domain.Claim, result *SweepResult) {
	if _, err := s.monitor.Escalate(ctx, c.ID, ""); err != nil {
		result.Failed++
		s.logger.WithFields(logrus.Fields{
			"claim_id": c.ID,
			"error":    err,
		}).Error("Escalation failed")
		return
	}
	result.Escalated++
}

// Schedule runs a pass every interval until ctx is done. A non-positive
// interval disables the in-process schedule.
func (s *Sweeper) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Info("In-process monitoring sweep disabled")
		return
	}

	s.logger.WithField("interval", interval.String()).Info("Monitoring sweep scheduled")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Error("Monitoring sweep failed")
			}
		}
	}
}
