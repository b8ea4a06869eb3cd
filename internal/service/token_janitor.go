package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type expiredTokenPurger interface {
	DeleteExpired(ctx context.Context, exec sqlx.ExtContext, now time.Time) (int64, error)
}

// TokenJanitor periodically deletes expired refresh tokens.
type TokenJanitor struct {
	repo     expiredTokenPurger
	schedule string
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewTokenJanitor constructs a janitor for the given cron schedule.
func NewTokenJanitor(repo expiredTokenPurger, schedule string, logger *zap.Logger) *TokenJanitor {
	if schedule == "" {
		schedule = "@hourly"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenJanitor{
		repo:     repo,
		schedule: schedule,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		cron:     cron.New(),
	}
}

// Start registers the purge job and starts the scheduler.
func (j *TokenJanitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}

	j.ctx, j.cancel = context.WithCancel(ctx)
	id, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.RunOnce(j.ctx); err != nil {
			j.logger.Warn("refresh token purge failed", zap.Error(err))
		}
	})
	if err != nil {
		j.cancel()
		return fmt.Errorf("invalid token purge schedule %q: %w", j.schedule, err)
	}
	j.entryID = id
	j.cron.Start()
	j.running = true
	j.logger.Info("token janitor started", zap.String("schedule", j.schedule))
	return nil
}

// Stop halts the scheduler and waits for a running purge to finish.
func (j *TokenJanitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	j.cancel()
	<-j.cron.Stop().Done()
	j.cron.Remove(j.entryID)
	j.running = false
	j.logger.Info("token janitor stopped")
}

// NextRun returns the next scheduled purge, or the zero time when stopped.
func (j *TokenJanitor) NextRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return time.Time{}
	}
	return j.cron.Entry(j.entryID).Next
}

// RunOnce purges expired tokens immediately.
func (j *TokenJanitor) RunOnce(ctx context.Context) (int64, error) {
	removed, err := j.repo.DeleteExpired(ctx, nil, j.now())
	if err != nil {
		return 0, normalize(err, "failed to purge refresh tokens")
	}
	if removed > 0 {
		j.logger.Info("expired refresh tokens purged", zap.Int64("count", removed))
	}
	return removed, nil
}
