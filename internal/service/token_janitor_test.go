package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/labroster/pkg/errors"
)

type stubPurger struct {
	mu      sync.Mutex
	calls   []time.Time
	removed int64
	err     error
}

func (s *stubPurger) DeleteExpired(ctx context.Context, exec sqlx.ExtContext, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, now)
	return s.removed, s.err
}

func TestTokenJanitorRunOnce(t *testing.T) {
	purger := &stubPurger{removed: 3}
	janitor := NewTokenJanitor(purger, "", zap.NewNop())
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	janitor.now = func() time.Time { return fixed }

	removed, err := janitor.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.Equal(t, []time.Time{fixed}, purger.calls)
}

func TestTokenJanitorRunOnceError(t *testing.T) {
	janitor := NewTokenJanitor(&stubPurger{err: errors.New("disk full")}, "", zap.NewNop())

	_, err := janitor.RunOnce(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestTokenJanitorStartStop(t *testing.T) {
	janitor := NewTokenJanitor(&stubPurger{}, "@every 1h", zap.NewNop())
	assert.True(t, janitor.NextRun().IsZero())

	require.NoError(t, janitor.Start(context.Background()))
	require.NoError(t, janitor.Start(context.Background()))
	next := janitor.NextRun()
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, time.Minute)

	janitor.Stop()
	janitor.Stop()
	assert.True(t, janitor.NextRun().IsZero())
}

func TestTokenJanitorInvalidSchedule(t *testing.T) {
	janitor := NewTokenJanitor(&stubPurger{}, "every other tuesday", zap.NewNop())

	err := janitor.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token purge schedule")
}
