package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterRetries(t *testing.T) {
	p := NewPolicy(5)
	p.BaseDelay = time.Millisecond
	attempts := 0
	err := Do(context.Background(), p, AlwaysRetryable, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	p := NewPolicy(5)
	p.BaseDelay = time.Millisecond
	attempts := 0
	sentinel := errors.New("fatal")
	notRetryable := func(err error) bool { return false }
	err := Do(context.Background(), p, notRetryable, func(ctx context.Context) error {
		attempts++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestDo_ExhaustsMaxAttempts(t *testing.T) {
	p := NewPolicy(3)
	p.BaseDelay = time.Millisecond
	attempts := 0
	err := Do(context.Background(), p, AlwaysRetryable, func(ctx context.Context) error {
		attempts++
		return errors.New("always fails")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	p := NewPolicy(10)
	p.BaseDelay = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, p, AlwaysRetryable, func(ctx context.Context) error {
		attempts++
		return errors.New("fail")
	})
	assert.Error(t, err)
	assert.Less(t, attempts, 10)
}

func TestPolicy_DelayGrowsAndCaps(t *testing.T) {
	p := NewPolicy(20)
	p.JitterFrac = 0
	p.MaxDelay = 2 * time.Second
	d0 := p.delay(0)
	d1 := p.delay(1)
	assert.Equal(t, p.BaseDelay, d0)
	assert.Equal(t, p.BaseDelay*2, d1)
	dCapped := p.delay(10)
	assert.Equal(t, p.MaxDelay, dCapped)
}
