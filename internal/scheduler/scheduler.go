// Package scheduler triggers recurring sync passes, serializes concurrent
// triggers, and owns the retry and audit lifecycle around each run.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ignite/sqp-sync/internal/config"
	"github.com/ignite/sqp-sync/internal/domain"
	"github.com/ignite/sqp-sync/internal/pkg/distlock"
	"github.com/ignite/sqp-sync/internal/pkg/logger"
	"github.com/ignite/sqp-sync/internal/syncer"
)

// ErrAlreadyRunning is returned when a trigger arrives while a sync is
// already in progress, here or on another host. The trigger is rejected
// immediately; no audit row is created for it.
var ErrAlreadyRunning = errors.New("sync already in progress")

// SyncRunner runs one extraction pass. Satisfied by *syncer.Service.
type SyncRunner interface {
	SyncPeriodData(ctx context.Context, pt domain.PeriodType, start, end time.Time, opts syncer.Options) (*syncer.Result, error)
}

// AuditStore is the store surface the scheduler drives: the audit trail,
// the sync cursor, and post-sync housekeeping.
type AuditStore interface {
	CreateSyncLog(ctx context.Context, syncType, sourceTable, targetTable string) (string, error)
	CompleteSyncLog(ctx context.Context, id string, processed, inserted, updated, failed, retryCount int) error
	FailSyncLog(ctx context.Context, id, errMsg, errDetails string, retryCount int) error
	LatestSyncedPeriodEnd(ctx context.Context, pt domain.PeriodType) (time.Time, bool, error)
	RecordQualityCheck(ctx context.Context, c domain.QualityCheck) error
	RefreshMaterializedViews(ctx context.Context) error
}

// Scheduler runs the sync on a cron cadence and exposes a manual trigger.
// Concurrent invocations are rejected, never queued: within a process via
// an in-memory flag, across hosts via the distributed lock.
type Scheduler struct {
	cron   *cron.Cron
	runner SyncRunner
	audit  AuditStore
	lock   distlock.DistLock

	cfg          config.SchedulerConfig
	periodType   domain.PeriodType
	lookbackDays int
	sourceTable  string
	targetTable  string
	instanceID   string

	mu      sync.Mutex
	running bool

	// Hooks for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// New builds a Scheduler. An unparseable cron expression is a fatal
// configuration error, caught here rather than at the first missed tick.
func New(cfg *config.Config, runner SyncRunner, audit AuditStore, lock distlock.DistLock) (*Scheduler, error) {
	pt, err := domain.ParsePeriodType(cfg.Sync.PeriodType)
	if err != nil {
		return nil, err
	}
	if _, err := cron.ParseStandard(cfg.Scheduler.CronExpression); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Scheduler.CronExpression, err)
	}

	return &Scheduler{
		cron:         cron.New(),
		runner:       runner,
		audit:        audit,
		lock:         lock,
		cfg:          cfg.Scheduler,
		periodType:   pt,
		lookbackDays: cfg.Sync.LookbackDays,
		sourceTable:  cfg.Warehouse.SourceTable,
		targetTable:  cfg.Sync.SummaryTable,
		instanceID:   uuid.New().String()[:8],
		now:          time.Now,
		sleep:        time.Sleep,
	}, nil
}

// Start registers the cron entry and begins ticking.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.cfg.CronExpression, func() {
		if _, err := s.TriggerNow(context.Background(), "scheduled"); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			logger.Error("scheduled sync failed", "error", err.Error())
		}
	})
	if err != nil {
		return fmt.Errorf("register cron entry: %w", err)
	}
	s.cron.Start()
	logger.Info("scheduler started",
		"instance", s.instanceID, "cron", s.cfg.CronExpression, "period_type", string(s.periodType))
	return nil
}

// Stop stops the cron ticker. A sync already in flight runs to completion.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("scheduler stopped")
}

// IsRunning reports whether a sync is in flight in this process.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerNow runs one sync pass now. syncType tags the audit row with what
// initiated the run ("scheduled" or "manual").
func (s *Scheduler) TriggerNow(ctx context.Context, syncType string) (*syncer.Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !acquired {
		return nil, ErrAlreadyRunning
	}
	defer func() {
		if err := s.lock.Release(context.Background()); err != nil {
			logger.Error("release sync lock failed", "error", err.Error())
		}
	}()

	return s.runLocked(ctx, syncType)
}

func (s *Scheduler) runLocked(ctx context.Context, syncType string) (*syncer.Result, error) {
	lastEnd, haveLast, err := s.audit.LatestSyncedPeriodEnd(ctx, s.periodType)
	if err != nil {
		return nil, fmt.Errorf("read sync cursor: %w", err)
	}
	w, ok := nextWindow(s.now(), s.periodType, lastEnd, haveLast, s.lookbackDays)
	if !ok {
		// Caught up. Record the no-op so the audit trail shows the
		// scheduler fired.
		logger.Info("store is up to date, nothing to sync", "period_type", string(s.periodType))
		id, err := s.audit.CreateSyncLog(ctx, syncType, s.sourceTable, s.targetTable)
		if err != nil {
			return nil, err
		}
		if err := s.audit.CompleteSyncLog(ctx, id, 0, 0, 0, 0, 0); err != nil {
			return nil, err
		}
		return &syncer.Result{Success: true, Strategy: "all"}, nil
	}

	id, err := s.audit.CreateSyncLog(ctx, syncType, s.sourceTable, s.targetTable)
	if err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}
	logger.Info("sync run starting",
		"sync_log_id", id, "instance", s.instanceID, "window", w.String(), "trigger", syncType)

	opts := syncer.Options{ValidateData: s.cfg.RunQualityChecks}

	var res *syncer.Result
	var lastErr error
	attempts := s.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	timeoutMins := s.cfg.AttemptTimeoutMins
	if timeoutMins <= 0 {
		timeoutMins = 30
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMins)*time.Minute)
		res, lastErr = s.runner.SyncPeriodData(attemptCtx, w.PeriodType, w.Start, w.End, opts)
		cancel()

		if lastErr == nil {
			s.finishRun(ctx, id, res, attempt-1)
			return res, nil
		}

		logger.Error("sync attempt failed",
			"sync_log_id", id, "attempt", attempt, "of", attempts, "error", lastErr.Error())
		if attempt < attempts {
			// Re-arm the lock so the backoff and next attempt cannot
			// outlive its TTL.
			if err := s.lock.Extend(ctx); err != nil {
				logger.Error("extend sync lock failed", "sync_log_id", id, "error", err.Error())
			}
			// Exponential backoff between attempts.
			s.sleep(time.Duration(s.cfg.RetryDelayMs) * time.Millisecond << (attempt - 1))
		}
	}

	details := ""
	if res != nil && len(res.Errors) > 0 {
		if b, err := json.Marshal(res.Errors); err == nil {
			details = string(b)
		}
	}
	if err := s.audit.FailSyncLog(ctx, id, lastErr.Error(), details, attempts-1); err != nil {
		logger.Error("record sync failure failed", "sync_log_id", id, "error", err.Error())
	}
	return res, fmt.Errorf("sync failed after %d attempts: %w", attempts, lastErr)
}

// finishRun closes out a successful run: the audit row, persisted quality
// checks, and the rollup view refresh. Housekeeping failures are logged but
// never fail an already-completed sync.
func (s *Scheduler) finishRun(ctx context.Context, id string, res *syncer.Result, retryCount int) {
	if err := s.audit.CompleteSyncLog(ctx, id,
		res.RecordsProcessed, res.RecordsInserted, res.RecordsUpdated, res.RecordsFailed, retryCount); err != nil {
		logger.Error("complete sync log failed", "sync_log_id", id, "error", err.Error())
	}

	if res.Validation != nil {
		for _, check := range res.Validation.Checks {
			if err := s.audit.RecordQualityCheck(ctx, check.ToQualityCheck(id)); err != nil {
				logger.Error("record quality check failed", "sync_log_id", id, "check", check.Type, "error", err.Error())
			}
		}
	}

	if s.cfg.RefreshViews {
		if err := s.audit.RefreshMaterializedViews(ctx); err != nil {
			logger.Error("refresh materialized views failed", "error", err.Error())
		}
	}

	logger.Info("sync run completed",
		"sync_log_id", id,
		"processed", res.RecordsProcessed,
		"synced", res.RecordsSynced,
		"failed", res.RecordsFailed,
		"retries", retryCount)
}
