package app

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/internal/domain"
)

type countingSweeper struct {
	calls atomic.Int32
	days  atomic.Int32
}

func (s *countingSweeper) CleanupOlderThan(days int) CleanupResult {
	s.calls.Add(1)
	s.days.Store(int32(days))
	return CleanupResult{DeletedCount: 1, FreedBytes: 42}
}

func TestRetentionScheduler_SweepsOnStartup(t *testing.T) {
	sweeper := &countingSweeper{}
	s := NewRetentionScheduler(sweeper, domain.RetentionConfig{Days: 7, SweepOnStartup: true}, zap.NewNop())

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Equal(t, int32(1), sweeper.calls.Load())
	assert.Equal(t, int32(7), sweeper.days.Load())
}

func TestRetentionScheduler_RunsOnSchedule(t *testing.T) {
	sweeper := &countingSweeper{}
	s := NewRetentionScheduler(sweeper, domain.RetentionConfig{Days: 3, SweepSchedule: "@every 1s"}, zap.NewNop())

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Equal(t, int32(0), sweeper.calls.Load())
	require.Eventually(t, func() bool {
		return sweeper.calls.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestRetentionScheduler_InvalidSchedule(t *testing.T) {
	s := NewRetentionScheduler(&countingSweeper{}, domain.RetentionConfig{Days: 7, SweepSchedule: "every tuesday"}, nil)
	assert.Error(t, s.Start())
}

func TestRetentionScheduler_DisabledWithoutDays(t *testing.T) {
	sweeper := &countingSweeper{}
	s := NewRetentionScheduler(sweeper, domain.RetentionConfig{Days: 0, SweepOnStartup: true, SweepSchedule: "@daily"}, nil)

	require.NoError(t, s.Start())
	s.Stop()
	assert.Equal(t, int32(0), sweeper.calls.Load())
}
