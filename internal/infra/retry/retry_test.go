package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/rentdesk/internal/core/fault"
)

type fakeGate struct {
	configured bool
	ready      atomic.Bool
	checkOK    bool
	checks     atomic.Int32
}

func readyGate() *fakeGate {
	g := &fakeGate{configured: true, checkOK: true}
	g.ready.Store(true)
	return g
}

func (g *fakeGate) IsConfigured() bool { return g.configured }
func (g *fakeGate) IsReady() bool      { return g.ready.Load() }
func (g *fakeGate) CheckConnection(context.Context) bool {
	g.checks.Add(1)
	return g.checkOK
}

type waits struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *waits) hook(_ int, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.delays = append(w.delays, d)
}

func (w *waits) list() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.delays...)
}

type tenant struct {
	ID int
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	for _, failures := range []int{0, 1, 2} {
		w := &waits{}
		e := NewExecutor("tenants", readyGate(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, WithWaitHook(w.hook))

		var calls int
		got, err := WithRetry(context.Background(), e, "list", func(context.Context) (tenant, error) {
			calls++
			if calls <= failures {
				return tenant{}, errors.New("TypeError: Failed to fetch")
			}
			return tenant{ID: 1}, nil
		})

		require.NoError(t, err)
		assert.Equal(t, tenant{ID: 1}, got)
		assert.Equal(t, failures+1, calls)
		assert.Len(t, w.list(), failures)
	}
}

func TestWithRetry_ExhaustsAttemptsOnTransientError(t *testing.T) {
	w := &waits{}
	e := NewExecutor("tenants", readyGate(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, WithWaitHook(w.hook))
	cause := &fault.APIError{Status: 503, Message: "Service Unavailable"}

	var calls int
	_, err := WithRetry(context.Background(), e, "list", func(context.Context) ([]tenant, error) {
		calls++
		return nil, cause
	})

	assert.Same(t, cause, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, w.list())
}

func TestWithRetry_NonRetryableIsReturnedUnchanged(t *testing.T) {
	w := &waits{}
	e := NewExecutor("tenants", readyGate(), Policy{MaxAttempts: 3, BaseDelay: time.Second}, WithWaitHook(w.hook))
	cause := errors.New(`duplicate key value violates unique constraint "tenants_email_key"`)

	var calls int
	start := time.Now()
	_, err := WithRetry(context.Background(), e, "create", func(context.Context) (tenant, error) {
		calls++
		return tenant{}, cause
	})

	assert.Same(t, cause, err)
	assert.Equal(t, cause.Error(), err.Error())
	assert.Equal(t, 1, calls)
	assert.Empty(t, w.list())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWithRetry_LinearBackoff(t *testing.T) {
	w := &waits{}
	base := 20 * time.Millisecond
	e := NewExecutor("properties", readyGate(), Policy{MaxAttempts: 4, BaseDelay: base}, WithWaitHook(w.hook))

	start := time.Now()
	_, err := WithRetry(context.Background(), e, "list", func(context.Context) (int, error) {
		return 0, context.DeadlineExceeded
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []time.Duration{base, 2 * base, 3 * base}, w.list())
	assert.GreaterOrEqual(t, time.Since(start), 6*base)
}

func TestWithRetry_NotConfiguredFailsFast(t *testing.T) {
	g := readyGate()
	g.configured = false
	e := NewExecutor("tenants", g, Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})

	var calls int
	_, err := WithRetry(context.Background(), e, "list", func(context.Context) (int, error) {
		calls++
		return 1, nil
	})

	require.ErrorIs(t, err, fault.ErrNotConfigured)
	assert.Zero(t, calls)
	assert.Zero(t, g.checks.Load())
}

func TestWithRetry_CannotConnectOnFinalAttempt(t *testing.T) {
	g := readyGate()
	g.ready.Store(false)
	g.checkOK = false
	w := &waits{}
	e := NewExecutor("tenants", g, Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, WithWaitHook(w.hook))

	var calls int
	_, err := WithRetry(context.Background(), e, "list", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fetch failed")
	})

	require.ErrorIs(t, err, fault.ErrCannotConnect)
	// Earlier attempts still go ahead while the connection is down.
	assert.Equal(t, 2, calls)
	assert.Equal(t, int32(3), g.checks.Load())
	assert.Len(t, w.list(), 2)
}

func TestWithRetry_ChecksConnectionOnlyWhenNotReady(t *testing.T) {
	g := readyGate()
	e := NewExecutor("tenants", g, Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})

	_, err := WithRetry(context.Background(), e, "get", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Zero(t, g.checks.Load())

	g.ready.Store(false)
	got, err := WithRetry(context.Background(), e, "get", func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.Equal(t, int32(1), g.checks.Load())
}

func TestWithRetry_CanceledWhileWaiting(t *testing.T) {
	e := NewExecutor("tenants", readyGate(), Policy{MaxAttempts: 3, BaseDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cause := errors.New("Network Error")

	done := make(chan error, 1)
	go func() {
		_, err := WithRetry(ctx, e, "list", func(context.Context) (int, error) { return 0, cause })
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("WithRetry did not return after cancellation")
	}
}

func TestNewExecutor_ClampsPolicy(t *testing.T) {
	e := NewExecutor("tenants", readyGate(), Policy{MaxAttempts: 0, BaseDelay: -time.Second})
	assert.Equal(t, Policy{MaxAttempts: 1, BaseDelay: 0}, e.Policy())

	var calls int
	_, err := WithRetry(context.Background(), e, "list", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("failed to fetch")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsRetryableError(t *testing.T) {
	e := NewExecutor("tenants", readyGate(), DefaultPolicy)
	assert.True(t, e.IsRetryableError(errors.New("Failed to fetch")))
	assert.True(t, e.IsRetryableError(&fault.APIError{Status: 500, Code: "57014"}))
	assert.False(t, e.IsRetryableError(errors.New("duplicate key")))

	custom := NewExecutor("tenants", readyGate(), DefaultPolicy,
		WithClassifier(fault.NewClassifier(fault.Options{TransientCodes: []string{"XX001"}})))
	assert.True(t, custom.IsRetryableError(&fault.APIError{Status: 500, Code: "XX001"}))
	assert.False(t, custom.IsRetryableError(&fault.APIError{Status: 500, Code: "57014"}))
}
