package moderation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	calls   int32
	delay   time.Duration
	failN   int32
	result  *Result
	permErr error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Classify(ctx context.Context, content string) (*Result, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.permErr != nil {
		return nil, Permanent(s.permErr)
	}
	if n <= s.failN {
		return nil, errors.New("upstream 503")
	}
	return s.result, nil
}

func okResult() *Result {
	return &Result{Provider: "stub", Categories: []Category{{Name: "violence", Score: 0.02}}, MaxScore: 0.02}
}

func TestAdapter_CachesIdenticalContent(t *testing.T) {
	p := &stubProvider{result: okResult()}
	a := NewAdapter(p, WithCacheTTL(time.Minute))

	first, err := a.Moderate(context.Background(), "Do lions sleep?")
	require.NoError(t, err)
	second, err := a.Moderate(context.Background(), "Do lions sleep?")
	require.NoError(t, err)
	_, err = a.Moderate(context.Background(), "Do tigers sleep?")
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(2), atomic.LoadInt32(&p.calls))
}

func TestAdapter_CacheDisabled(t *testing.T) {
	p := &stubProvider{result: okResult()}
	a := NewAdapter(p, WithCacheTTL(0))
	for i := 0; i < 3; i++ {
		_, err := a.Moderate(context.Background(), "same")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&p.calls))
}

func TestAdapter_ConcurrentIdenticalCallsCollapse(t *testing.T) {
	p := &stubProvider{result: okResult(), delay: 50 * time.Millisecond}
	a := NewAdapter(p, WithCacheTTL(0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Moderate(context.Background(), "burst")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, atomic.LoadInt32(&p.calls), int32(8))
}

func TestAdapter_RetriesThenSucceeds(t *testing.T) {
	p := &stubProvider{result: okResult(), failN: 2}
	a := NewAdapter(p, WithInitialBackoff(time.Millisecond))
	res, err := a.Moderate(context.Background(), "x")
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Equal(t, int32(3), atomic.LoadInt32(&p.calls))
}

func TestAdapter_UnavailableAfterRetryBudget(t *testing.T) {
	p := &stubProvider{result: okResult(), failN: 100}
	a := NewAdapter(p, WithAttempts(3), WithInitialBackoff(time.Millisecond))

	_, err := a.Moderate(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 3, unavailable.Attempts)
	assert.Equal(t, "stub", unavailable.Provider)
}

func TestAdapter_PerAttemptTimeoutBoundsLatency(t *testing.T) {
	p := &stubProvider{result: okResult(), delay: time.Second}
	a := NewAdapter(p, WithTimeout(20*time.Millisecond), WithAttempts(2), WithInitialBackoff(time.Millisecond))

	start := time.Now()
	_, err := a.Moderate(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAdapter_PermanentNotRetried(t *testing.T) {
	p := &stubProvider{permErr: errors.New("400 bad request")}
	a := NewAdapter(p, WithInitialBackoff(time.Millisecond))
	_, err := a.Moderate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.calls))
}

func TestDigest_DoesNotLeakContent(t *testing.T) {
	d := digest("my secret diary")
	assert.Len(t, d, 64)
	assert.NotContains(t, d, "secret")
	assert.NotEqual(t, d, digest("my secret diary."))
}

func TestAdapter_LeaderCancellationDoesNotFailFollowers(t *testing.T) {
	p := &stubProvider{result: okResult(), delay: 80 * time.Millisecond}
	a := NewAdapter(p, WithCacheTTL(0), WithAttempts(1))

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := a.Moderate(leaderCtx, "shared content")
		leaderErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	followerRes := make(chan *Result, 1)
	followerErr := make(chan error, 1)
	go func() {
		res, err := a.Moderate(context.Background(), "shared content")
		followerRes <- res
		followerErr <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-leaderErr
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, <-followerErr)
	res := <-followerRes
	require.NotNil(t, res)
	assert.InDelta(t, 0.02, res.MaxScore, 1e-9)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.calls))
}

func TestAdapter_CallerDeadlineReturnsEarly(t *testing.T) {
	p := &stubProvider{result: okResult(), delay: 200 * time.Millisecond}
	a := NewAdapter(p, WithCacheTTL(time.Minute), WithAttempts(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := a.Moderate(ctx, "slow content")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	// the detached call still completes and fills the cache
	require.Eventually(t, func() bool {
		res, err := a.Moderate(context.Background(), "slow content")
		return err == nil && res.Cached
	}, time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.calls))
}
