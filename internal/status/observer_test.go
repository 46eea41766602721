package status

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vietddude/rentdesk/internal/infra/backend"
)

type fakeConn struct {
	mu      sync.Mutex
	status  backend.Status
	healthy bool
	checks  atomic.Int32
}

func newFakeConn(connected, healthy bool) *fakeConn {
	return &fakeConn{
		status:  backend.Status{Configured: true, Connected: connected},
		healthy: healthy,
	}
}

func (f *fakeConn) Status() backend.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeConn) CheckConnection(context.Context) bool {
	f.checks.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.Connected = f.healthy
	f.status.LastCheckAt = time.Now()
	if f.healthy {
		f.status.Attempts = 0
	}
	return f.healthy
}

func (f *fakeConn) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.Connected = v
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestObserver_OfflineThenOnline(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conn := newFakeConn(true, true)
	src := NewManualSource()
	obs := NewObserver(conn, src, Config{PollInterval: time.Hour, SettleDelay: 30 * time.Millisecond}, nil)
	require.True(t, obs.Snapshot().Connected)

	sub := obs.Start(context.Background())
	defer sub.Stop()

	src.Set(false)
	assert.Eventually(t, func() bool {
		s := obs.Snapshot()
		return !s.Online && !s.Connected
	}, waitFor, tick)
	assert.Zero(t, conn.checks.Load(), "going offline must not probe")

	src.Set(true)
	assert.Eventually(t, func() bool { return conn.checks.Load() == 1 }, waitFor, tick)
	assert.Eventually(t, func() bool { return obs.Snapshot().Connected }, waitFor, tick)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), conn.checks.Load(), "exactly one settle re-check")
}

func TestObserver_OnlineBurstSettlesOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conn := newFakeConn(false, true)
	src := NewManualSource()
	obs := NewObserver(conn, src, Config{PollInterval: time.Hour, SettleDelay: 50 * time.Millisecond}, nil)
	sub := obs.Start(context.Background())
	defer sub.Stop()

	src.Set(true)
	src.Set(true)
	src.Set(true)

	assert.Eventually(t, func() bool { return conn.checks.Load() == 1 }, waitFor, tick)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), conn.checks.Load())
}

func TestObserver_OfflineCancelsPendingSettle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conn := newFakeConn(false, true)
	src := NewManualSource()
	obs := NewObserver(conn, src, Config{PollInterval: time.Hour, SettleDelay: 50 * time.Millisecond}, nil)
	sub := obs.Start(context.Background())
	defer sub.Stop()

	src.Set(true)
	src.Set(false)

	assert.Eventually(t, func() bool { return !obs.Snapshot().Online }, waitFor, tick)
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, conn.checks.Load())
}

func TestObserver_TickerRechecksOnlyWhenDisconnected(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conn := newFakeConn(true, false)
	obs := NewObserver(conn, nil, Config{PollInterval: 10 * time.Millisecond, SettleDelay: time.Hour}, nil)
	sub := obs.Start(context.Background())
	defer sub.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, conn.checks.Load(), "healthy connection is not re-probed by the timer")

	conn.setConnected(false)
	assert.Eventually(t, func() bool { return conn.checks.Load() >= 2 }, waitFor, tick)
	assert.False(t, obs.Snapshot().Connected)
}

func TestObserver_TickerSkipsWhileOffline(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conn := newFakeConn(false, false)
	src := NewManualSource()
	obs := NewObserver(conn, src, Config{PollInterval: 10 * time.Millisecond, SettleDelay: time.Hour}, nil)
	sub := obs.Start(context.Background())
	defer sub.Stop()

	src.Set(false)
	assert.Eventually(t, func() bool { return !obs.Snapshot().Online }, waitFor, tick)
	before := conn.checks.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, before, conn.checks.Load())
}

func TestObserver_CheckConnectionRefreshesSnapshot(t *testing.T) {
	conn := newFakeConn(false, true)
	conn.status.Attempts = 2
	obs := NewObserver(conn, nil, Config{}, nil)

	var got []Snapshot
	var mu sync.Mutex
	unsubscribe := obs.Subscribe(func(s Snapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	assert.True(t, obs.CheckConnection(context.Background()))
	s := obs.Snapshot()
	assert.True(t, s.Online)
	assert.True(t, s.Connected)
	assert.True(t, s.Configured)
	assert.Zero(t, s.Attempts)
	assert.False(t, s.LastCheckAt.IsZero())

	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, s, got[0])
	mu.Unlock()

	unsubscribe()
	conn.healthy = false
	obs.CheckConnection(context.Background())
	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()
}

func TestObserver_StartIsIdempotentAndStopReleasesEverything(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conn := newFakeConn(true, true)
	src := NewManualSource()
	obs := NewObserver(conn, src, Config{PollInterval: time.Millisecond, SettleDelay: time.Hour}, nil)

	sub := obs.Start(context.Background())
	assert.Same(t, sub, obs.Start(context.Background()))

	// Leave a settle timer pending.
	src.Set(true)
	assert.Eventually(t, func() bool { return len(src.ch) == 0 }, waitFor, tick)

	sub.Stop()
	sub.Stop()

	again := obs.Start(context.Background())
	assert.NotSame(t, sub, again)
	again.Stop()
}

func TestDialSource_EmitsEdges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	src := newDialSource(ln.Addr().String(), 10*time.Millisecond)
	events := make(chan bool, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		src.Run(ctx, func(online bool) { events <- online })
	}()

	assert.True(t, <-events)
	require.NoError(t, ln.Close())

	select {
	case online := <-events:
		assert.False(t, online)
	case <-time.After(waitFor):
		t.Fatal("no offline event after listener closed")
	}

	// No repeats while the state holds.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, events)

	cancel()
	<-done
}

func TestNewDialSource(t *testing.T) {
	tests := []struct {
		url  string
		addr string
	}{
		{"https://abc.supabase.co", "abc.supabase.co:443"},
		{"http://localhost:54321", "localhost:54321"},
		{"http://localhost", "localhost:80"},
		{"postgres://user:pw@db.internal/rentdesk", "db.internal:5432"},
	}
	for _, tt := range tests {
		src, err := NewDialSource(tt.url, time.Second)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.addr, src.Addr())
	}

	_, err := NewDialSource("not a url", time.Second)
	assert.Error(t, err)
}
