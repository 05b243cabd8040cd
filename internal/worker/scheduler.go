package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/venue-simulator/internal/config"
	"github.com/venue-simulator/internal/service"
	"github.com/venue-simulator/pkg/logger"
)

// JobState is the last observed state of a scheduled job
type JobState string

const (
	JobStateIdle    JobState = "IDLE"
	JobStateRunning JobState = "RUNNING"
	JobStateFailed  JobState = "FAILED"
)

// JobStatus is a point-in-time view of one job for the status endpoint
type JobStatus struct {
	Name      string    `json:"name"`
	State     JobState  `json:"state"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	RunCount  int64     `json:"run_count"`
}

type job struct {
	name string
	run  func(ctx context.Context) error

	mu        sync.Mutex
	state     JobState
	lastRun   time.Time
	lastError string
	runCount  int64
}

// Scheduler drives the reconciliation jobs: unrealized PnL refresh and
// portfolio metric refresh on a fast ticker, expiry processing and daily
// snapshots once per day. Jobs never overlap themselves, and a panic in one
// run marks the job FAILED without taking the scheduler down.
type Scheduler struct {
	trades     *service.TradeService
	portfolios *service.PortfolioService
	expiries   *service.ExpiryService
	cfg        config.SchedulerConfig

	refreshPnL     *job
	refreshMetrics *job
	processExpiry  *job
	dailySnapshot  *job

	lastDailyDate string
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// NewScheduler creates a new Scheduler
func NewScheduler(
	trades *service.TradeService,
	portfolios *service.PortfolioService,
	expiries *service.ExpiryService,
	cfg config.SchedulerConfig,
) *Scheduler {
	s := &Scheduler{
		trades:     trades,
		portfolios: portfolios,
		expiries:   expiries,
		cfg:        cfg,
		stopChan:   make(chan struct{}),
	}
	s.refreshPnL = &job{name: "refresh_unrealized_pnl", state: JobStateIdle, run: s.runRefreshPnL}
	s.refreshMetrics = &job{name: "refresh_portfolio_metrics", state: JobStateIdle, run: s.runRefreshMetrics}
	s.processExpiry = &job{name: "process_expiries", state: JobStateIdle, run: s.runProcessExpiries}
	s.dailySnapshot = &job{name: "daily_snapshot", state: JobStateIdle, run: s.runDailySnapshot}
	return s
}

// Start begins the scheduling loops. Blocks until Stop is called; run it in a
// goroutine.
func (s *Scheduler) Start() {
	logger.Info("Scheduler started: refresh every %v, daily check every %v",
		s.cfg.RefreshInterval(), s.cfg.DailyCheckInterval())

	s.wg.Add(2)
	go s.refreshLoop()
	go s.dailyLoop()
	s.wg.Wait()
}

// Stop stops the scheduling loops
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	logger.Info("Scheduler stopped")
}

// Status returns the current state of every job
func (s *Scheduler) Status() []JobStatus {
	jobs := []*job{s.refreshPnL, s.refreshMetrics, s.processExpiry, s.dailySnapshot}
	statuses := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		statuses = append(statuses, JobStatus{
			Name:      j.name,
			State:     j.state,
			LastRun:   j.lastRun,
			LastError: j.lastError,
			RunCount:  j.runCount,
		})
		j.mu.Unlock()
	}
	return statuses
}

func (s *Scheduler) refreshLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.execute(s.refreshPnL)
			s.execute(s.refreshMetrics)
		case <-s.stopChan:
			return
		}
	}
}

// dailyLoop polls for a day rollover; the daily jobs fire once per calendar
// day, on the first tick after midnight and immediately on startup.
func (s *Scheduler) dailyLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.DailyCheckInterval())
	defer ticker.Stop()

	s.runDailyIfDue()
	for {
		select {
		case <-ticker.C:
			s.runDailyIfDue()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) runDailyIfDue() {
	today := time.Now().UTC().Format("2006-01-02")
	if today == s.lastDailyDate {
		return
	}
	s.lastDailyDate = today
	s.execute(s.processExpiry)
	s.execute(s.dailySnapshot)
}

// execute runs one job synchronously with panic recovery and state tracking.
// A job already RUNNING is skipped rather than overlapped.
func (s *Scheduler) execute(j *job) {
	j.mu.Lock()
	if j.state == JobStateRunning {
		j.mu.Unlock()
		logger.Info("Scheduler: job %s still running, skipping tick", j.name)
		return
	}
	j.state = JobStateRunning
	j.lastRun = time.Now()
	j.runCount++
	j.mu.Unlock()

	err := s.runRecovered(j)

	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		j.state = JobStateFailed
		j.lastError = err.Error()
		logger.Error("Scheduler: job %s failed: %v", j.name, err)
		return
	}
	j.state = JobStateIdle
	j.lastError = ""
}

func (s *Scheduler) runRecovered(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{job: j.name, value: r}
		}
	}()
	return j.run(context.Background())
}

func (s *Scheduler) runRefreshPnL(ctx context.Context) error {
	refreshed, err := s.trades.RefreshUnrealized(ctx)
	if refreshed > 0 {
		logger.Info("Scheduler: refreshed unrealized PnL on %d trades", refreshed)
	}
	return err
}

func (s *Scheduler) runRefreshMetrics(ctx context.Context) error {
	var lastErr error
	for _, userID := range s.trades.DrainDirty() {
		if err := s.portfolios.Recompute(userID); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (s *Scheduler) runProcessExpiries(ctx context.Context) error {
	settled, err := s.expiries.ProcessExpiries(ctx)
	if settled > 0 {
		logger.Info("Scheduler: settled %d expired trades", settled)
	}
	return err
}

func (s *Scheduler) runDailySnapshot(ctx context.Context) error {
	snapshotted, err := s.portfolios.SnapshotAll()
	if snapshotted > 0 {
		logger.Info("Scheduler: wrote %d daily snapshots", snapshotted)
	}
	return err
}

type panicError struct {
	job   string
	value interface{}
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.job, e.value)
}
