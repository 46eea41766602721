// Package status keeps a live view of backend connectivity and serves it over HTTP.
package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/rentdesk/internal/infra/backend"
	"github.com/vietddude/rentdesk/internal/metrics"
)

// Connection is the part of the guardian the observer reads and re-probes.
type Connection interface {
	Status() backend.Status
	CheckConnection(ctx context.Context) bool
}

// Source emits network presence changes until ctx is done.
type Source interface {
	Run(ctx context.Context, emit func(online bool))
}

// Config controls observer timing.
type Config struct {
	PollInterval         time.Duration `yaml:"poll_interval"`
	SettleDelay          time.Duration `yaml:"settle_delay"`
	NetworkProbeInterval time.Duration `yaml:"network_probe_interval"`
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = time.Second
	}
	if c.NetworkProbeInterval <= 0 {
		c.NetworkProbeInterval = 5 * time.Second
	}
	return c
}

// Snapshot is the observer's current view.
type Snapshot struct {
	Online      bool      `json:"is_online"`
	Connected   bool      `json:"is_connected"`
	Configured  bool      `json:"is_configured"`
	Attempts    int       `json:"connection_attempts"`
	LastCheckAt time.Time `json:"last_check_at"`
}

// Observer re-checks connectivity on network events and on a timer.
type Observer struct {
	conn   Connection
	source Source
	cfg    Config
	log    *slog.Logger

	mu          sync.RWMutex
	snap        Snapshot
	subscribers map[int]func(Snapshot)
	nextID      int
	running     *Subscription
}

// NewObserver creates an observer. source may be nil, in which case the host
// is assumed to stay online.
func NewObserver(conn Connection, source Source, cfg Config, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Observer{
		conn:        conn,
		source:      source,
		cfg:         cfg.withDefaults(),
		log:         logger,
		subscribers: make(map[int]func(Snapshot)),
	}
	o.snap.Online = true
	o.sync()
	return o
}

// Snapshot returns the current view.
func (o *Observer) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snap
}

// Subscribe registers fn to be called after every snapshot change. The
// returned func removes the subscription.
func (o *Observer) Subscribe(fn func(Snapshot)) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subscribers[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.subscribers, id)
		o.mu.Unlock()
	}
}

// CheckConnection re-probes through the guardian and refreshes the snapshot.
func (o *Observer) CheckConnection(ctx context.Context) bool {
	o.conn.CheckConnection(ctx)
	return o.sync().Connected
}

// sync copies guardian state into the snapshot. Connected stays false while
// the host is offline.
func (o *Observer) sync() Snapshot {
	st := o.conn.Status()
	return o.update(func(s *Snapshot) {
		s.Configured = st.Configured
		s.Connected = s.Online && st.Connected
		s.Attempts = st.Attempts
		s.LastCheckAt = st.LastCheckAt
	})
}

func (o *Observer) update(mutate func(*Snapshot)) Snapshot {
	o.mu.Lock()
	prev := o.snap
	mutate(&o.snap)
	next := o.snap
	var fns []func(Snapshot)
	if next != prev {
		fns = make([]func(Snapshot), 0, len(o.subscribers))
		for _, fn := range o.subscribers {
			fns = append(fns, fn)
		}
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
	return next
}

func (o *Observer) setOnline(online bool) {
	prev := o.Snapshot().Online
	o.update(func(s *Snapshot) {
		s.Online = online
		if !online {
			s.Connected = false
		}
	})
	if online {
		metrics.NetworkOnline.Set(1)
	} else {
		metrics.NetworkOnline.Set(0)
	}
	if prev != online {
		o.log.Info("Network presence changed", "online", online)
	}
}

// Subscription is a running observer. Stop releases the network source, the
// poll ticker and any pending settle timer together.
type Subscription struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	o      *Observer
}

// Start begins watching. Calling Start on a running observer returns the
// existing subscription.
func (o *Observer) Start(ctx context.Context) *Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running != nil {
		return o.running
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, o: o}
	events := make(chan bool)

	if o.source != nil {
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			o.source.Run(ctx, func(online bool) {
				select {
				case events <- online:
				case <-ctx.Done():
				}
			})
		}()
	}

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		o.loop(ctx, events)
	}()

	o.running = sub
	return sub
}

// Stop cancels the subscription and waits for its goroutines to exit.
func (s *Subscription) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()

		s.o.mu.Lock()
		if s.o.running == s {
			s.o.running = nil
		}
		s.o.mu.Unlock()
	})
}

func (o *Observer) loop(ctx context.Context, events <-chan bool) {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	var settle *time.Timer
	var settleC <-chan time.Time
	cancelSettle := func() {
		if settle != nil {
			settle.Stop()
			settle, settleC = nil, nil
		}
	}
	defer cancelSettle()

	for {
		select {
		case <-ctx.Done():
			return

		case online := <-events:
			cancelSettle()
			o.setOnline(online)
			if online {
				settle = time.NewTimer(o.cfg.SettleDelay)
				settleC = settle.C
			}

		case <-settleC:
			settle, settleC = nil, nil
			o.CheckConnection(ctx)

		case <-ticker.C:
			snap := o.sync()
			if snap.Online && !snap.Connected {
				o.CheckConnection(ctx)
			}
		}
	}
}
