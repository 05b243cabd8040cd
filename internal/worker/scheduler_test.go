package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venue-simulator/internal/config"
)

func newTestScheduler() *Scheduler {
	// nil services: every job run panics, which is exactly what the
	// recovery tests need
	return NewScheduler(nil, nil, nil, config.SchedulerConfig{
		RefreshIntervalSeconds: 30,
		DailyCheckSeconds:      60,
	})
}

func TestStatusListsAllJobsIdle(t *testing.T) {
	s := newTestScheduler()

	statuses := s.Status()
	require.Len(t, statuses, 4)

	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, st.Name)
		assert.Equal(t, JobStateIdle, st.State)
		assert.Zero(t, st.RunCount)
	}
	assert.Equal(t, []string{
		"refresh_unrealized_pnl",
		"refresh_portfolio_metrics",
		"process_expiries",
		"daily_snapshot",
	}, names)
}

func TestExecuteRecoversPanicAndMarksFailed(t *testing.T) {
	s := newTestScheduler()

	// must not crash the test process
	s.execute(s.refreshPnL)

	s.refreshPnL.mu.Lock()
	defer s.refreshPnL.mu.Unlock()
	assert.Equal(t, JobStateFailed, s.refreshPnL.state)
	assert.Contains(t, s.refreshPnL.lastError, "panic in job refresh_unrealized_pnl")
	assert.EqualValues(t, 1, s.refreshPnL.runCount)
}

func TestDailyJobsRunOncePerDay(t *testing.T) {
	s := newTestScheduler()

	s.runDailyIfDue()
	s.runDailyIfDue()
	s.runDailyIfDue()

	s.processExpiry.mu.Lock()
	assert.EqualValues(t, 1, s.processExpiry.runCount)
	s.processExpiry.mu.Unlock()

	s.dailySnapshot.mu.Lock()
	assert.EqualValues(t, 1, s.dailySnapshot.runCount)
	s.dailySnapshot.mu.Unlock()
}

func TestFailedJobRecoversOnNextSuccess(t *testing.T) {
	s := newTestScheduler()
	s.refreshMetrics.run = func(ctx context.Context) error { return nil }

	s.execute(s.refreshPnL) // panics, FAILED
	s.refreshPnL.mu.Lock()
	assert.Equal(t, JobStateFailed, s.refreshPnL.state)
	s.refreshPnL.mu.Unlock()

	s.execute(s.refreshMetrics)
	s.refreshMetrics.mu.Lock()
	assert.Equal(t, JobStateIdle, s.refreshMetrics.state)
	assert.Empty(t, s.refreshMetrics.lastError)
	s.refreshMetrics.mu.Unlock()
}
