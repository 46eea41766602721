package status

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

// DialSource reports the host online while a TCP connection to the backend
// host can be opened. Only changes are emitted, plus the first result.
type DialSource struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	dialer   net.Dialer
}

// NewDialSource derives the dial address from the backend URL.
func NewDialSource(rawURL string, interval time.Duration) (*DialSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("backend url %q has no host", rawURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "postgres", "postgresql":
			port = "5432"
		default:
			port = "443"
		}
	}
	return newDialSource(net.JoinHostPort(u.Hostname(), port), interval), nil
}

func newDialSource(addr string, interval time.Duration) *DialSource {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := interval
	if timeout > 3*time.Second {
		timeout = 3 * time.Second
	}
	return &DialSource{addr: addr, interval: interval, timeout: timeout}
}

// Addr returns the host:port being dialed.
func (d *DialSource) Addr() string { return d.addr }

func (d *DialSource) Run(ctx context.Context, emit func(online bool)) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var known, last bool
	check := func() {
		online := d.reachable(ctx)
		if ctx.Err() != nil {
			return
		}
		if !known || online != last {
			known, last = true, online
			emit(online)
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func (d *DialSource) reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	conn, err := d.dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// ManualSource emits whatever is passed to Set. Used when presence comes
// from outside the process, and in tests.
type ManualSource struct {
	ch chan bool
}

func NewManualSource() *ManualSource {
	return &ManualSource{ch: make(chan bool, 16)}
}

// Set queues a presence change.
func (m *ManualSource) Set(online bool) {
	m.ch <- online
}

func (m *ManualSource) Run(ctx context.Context, emit func(online bool)) {
	for {
		select {
		case <-ctx.Done():
			return
		case online := <-m.ch:
			emit(online)
		}
	}
}
