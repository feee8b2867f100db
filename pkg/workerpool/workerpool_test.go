package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsEveryJob(t *testing.T) {
	p := NewPool[int](3)
	var sum, cleaned atomic.Int64
	for i := 1; i <= 20; i++ {
		ok := p.Submit(Job[int]{
			Payload:     i,
			Fn:          func(_ context.Context, n int) error { sum.Add(int64(n)); return nil },
			CleanupFunc: func() { cleaned.Add(1) },
		})
		require.True(t, ok)
	}
	assert.Empty(t, p.Wait())
	assert.EqualValues(t, 210, sum.Load())
	assert.EqualValues(t, 20, cleaned.Load())
	assert.EqualValues(t, 0, p.ActiveWorkers())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool[int](2)
	var running, peak atomic.Int32
	for i := 0; i < 8; i++ {
		p.Submit(Job[int]{Payload: i, Fn: func(context.Context, int) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}})
	}
	p.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPoolCollectsErrorsAndRetries(t *testing.T) {
	p := NewPool[string](2, WithRetry(3, time.Millisecond))
	var calls atomic.Int32
	p.Submit(Job[string]{Payload: "flaky", Fn: func(context.Context, string) error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}})
	p.Submit(Job[string]{Payload: "broken", Fn: func(context.Context, string) error {
		return errors.New("always")
	}})
	errs := p.Wait()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "failed after 3 attempts")
}

func TestPoolRejectsAfterWait(t *testing.T) {
	p := NewPool[int](1)
	p.Wait()
	assert.False(t, p.Submit(Job[int]{Payload: 1, Fn: func(context.Context, int) error { return nil }}))
	assert.Empty(t, p.Wait())
}
