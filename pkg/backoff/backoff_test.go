// pkg/backoff/backoff_test.go
package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/market-feed/pkg/backoff"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

func fastCfg() backoff.Config {
	return backoff.Config{
		InitialInterval:     time.Millisecond,
		RandomizationFactor: 0.01,
		Multiplier:          1.5,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      200 * time.Millisecond,
	}
}

func TestExecute_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := backoff.Execute(context.Background(), "test", fastCfg(), logger.NewNop(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	sentinel := errors.New("fatal")
	err := backoff.Execute(context.Background(), "test", fastCfg(), logger.NewNop(), func(ctx context.Context) error {
		calls++
		return backoff.Permanent(sentinel)
	})
	var maxErr *backoff.ErrMaxRetries
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, sentinel)
}

func TestExecute_InvalidConfig(t *testing.T) {
	cfg := fastCfg()
	cfg.RandomizationFactor = 2
	err := backoff.Execute(context.Background(), "test", cfg, logger.NewNop(), func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestPolicy_GrowsAndResets(t *testing.T) {
	p, err := backoff.NewPolicy("test", backoff.Config{
		InitialInterval:     10 * time.Millisecond,
		RandomizationFactor: 0.01,
		Multiplier:          2,
		MaxInterval:         40 * time.Millisecond,
	})
	require.NoError(t, err)

	first := p.Next()
	second := p.Next()
	assert.Greater(t, second, first)

	for i := 0; i < 10; i++ {
		assert.LessOrEqual(t, p.Next(), 41*time.Millisecond)
	}

	p.Reset()
	assert.Less(t, p.Next(), 15*time.Millisecond)
}
