package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claim-automation-server/internal/domain"
)

func sweepFixture() []*domain.Claim {
	fresh := baseClaim("fresh-rejection", domain.StatusRejected)
	fresh.RejectionCount = 1
	fresh.ProcessedAt = timePtr(fixedNow.AddDate(0, 0, -1))

	exhausted := baseClaim("exhausted", domain.StatusRejected)
	exhausted.RejectionCount = 3

	low := baseClaim("low", domain.StatusPending)
	low.AIConfidence = floatPtr(30)

	stale := baseClaim("stale", domain.StatusSubmitted)
	stale.SubmittedAt = timePtr(fixedNow.AddDate(0, 0, -14))

	return []*domain.Claim{fresh, exhausted, low, stale}
}

func TestSweeperRun(t *testing.T) {
	m, repo, sink := newTestMonitor(t, nil, sweepFixture()...)
	s := NewSweeper(m, testLogger())
	ctx := context.Background()

	result, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Scanned)
	assert.Equal(t, 1, result.Resubmitted)
	assert.Equal(t, 2, result.Escalated, "past the rejection limit and low confidence")
	assert.Equal(t, 1, result.FollowUps)
	assert.Zero(t, result.Skipped)
	assert.Zero(t, result.Failed)

	resubmitted := repo.get(t, "fresh-rejection")
	assert.Equal(t, domain.StatusSubmitted, resubmitted.Status)
	assert.Equal(t, 2, resubmitted.RejectionCount)

	// escalation never resubmits
	assert.Equal(t, domain.StatusRejected, repo.get(t, "exhausted").Status)
	assert.Equal(t, 1, sink.count(domain.NotifyResubmitted))
	assert.Equal(t, 1, sink.count(domain.NotifyFollowUp))

	// the resubmitted claim is not picked up again
	second, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Resubmitted)
	assert.Equal(t, 1, sink.count(domain.NotifyResubmitted))

	// claims past the rejection limit stay rejected and are escalated on every pass
	assert.Equal(t, 2, second.Escalated)
	assert.Equal(t, domain.StatusRejected, repo.get(t, "exhausted").Status)
}

func TestSweeperRun_ConflictIsSkipped(t *testing.T) {
	r := baseClaim("r1", domain.StatusRejected)
	m, repo, _ := newTestMonitor(t, nil, r)
	repo.beforeSwap = func(stored *domain.Claim) {
		stored.Status = domain.StatusSubmitted
		stored.WorkflowStep = domain.StepResubmitted
	}

	result, err := NewSweeper(m, testLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Resubmitted)
	assert.Zero(t, result.Failed)
}

func TestSweeperRun_Cancelled(t *testing.T) {
	m, repo, sink := newTestMonitor(t, nil, sweepFixture()...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewSweeper(m, testLogger()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Zero(t, result.Resubmitted)
	assert.Zero(t, sink.total())
	assert.Equal(t, domain.StatusRejected, repo.get(t, "fresh-rejection").Status)
}

func TestSweeperSchedule(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		m, _, sink := newTestMonitor(t, nil, sweepFixture()...)
		done := make(chan struct{})
		go func() {
			NewSweeper(m, testLogger()).Schedule(context.Background(), 0)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Schedule with a zero interval should return immediately")
		}
		assert.Zero(t, sink.total())
	})

	t.Run("runs until cancelled", func(t *testing.T) {
		m, repo, sink := newTestMonitor(t, nil, sweepFixture()...)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			NewSweeper(m, testLogger()).Schedule(ctx, 10*time.Millisecond)
			close(done)
		}()

		assert.Eventually(t, func() bool {
			return sink.count(domain.NotifyResubmitted) == 1
		}, 2*time.Second, 5*time.Millisecond)

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Schedule did not stop after cancellation")
		}
		assert.Equal(t, domain.StatusSubmitted, repo.get(t, "fresh-rejection").Status)
	})
}
