// Package backend owns the single long-lived handle to the hosted backend.
//
// The Guardian is the only writer of the connection state: whether the
// backend is configured, whether it was reachable on the last call, how many
// consecutive transport failures happened since the last success, and when it
// was last probed. Every outbound request goes through GuardedCall (HTTP) or
// Track (any other transport) so that the state follows real traffic.
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/vietddude/rentdesk/internal/core/fault"
	"github.com/vietddude/rentdesk/internal/metrics"
)

// Config holds the backend connection settings.
type Config struct {
	URL            string        `yaml:"url"`
	Key            string        `yaml:"key"`
	Mode           string        `yaml:"mode"`        // rest, postgres
	RESTPath       string        `yaml:"rest_path"`   // default /rest/v1
	ProbeTable     string        `yaml:"probe_table"` // table used by the metadata probe
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	CheckInterval  time.Duration `yaml:"check_interval"`
}

// Backend modes.
const (
	ModeREST     = "rest"
	ModePostgres = "postgres"
)

// Defaults for Config fields left empty.
const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 2 * time.Second
	DefaultCheckInterval  = 30 * time.Second
	DefaultRESTPath       = "/rest/v1"
)

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.RESTPath == "" {
		c.RESTPath = DefaultRESTPath
	}
	return c
}

// Status is a point-in-time snapshot of the connection state.
type Status struct {
	Configured  bool      `json:"configured"`
	Connected   bool      `json:"connected"`
	Attempts    int       `json:"attempts"`
	LastCheckAt time.Time `json:"last_check_at"`
}

// Prober issues the lightweight reachability query used by CheckConnection.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Timer is a pending reconnection probe.
type Timer interface {
	Stop() bool
}

// Option customizes a Guardian.
type Option func(*Guardian)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Guardian) { g.client = c }
}

// WithClassifier replaces the default error table.
func WithClassifier(c *fault.Classifier) Option {
	return func(g *Guardian) { g.classifier = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guardian) { g.log = l }
}

// WithProber replaces the REST metadata probe, e.g. with a database ping.
func WithProber(p Prober) Option {
	return func(g *Guardian) { g.prober = p }
}

// WithClock sets the time source used for probe throttling.
func WithClock(now func() time.Time) Option {
	return func(g *Guardian) { g.now = now }
}

// WithScheduler sets the function used to schedule reconnection probes.
func WithScheduler(afterFunc func(time.Duration, func()) Timer) Option {
	return func(g *Guardian) { g.afterFunc = afterFunc }
}

// Guardian tracks reachability of the backend and guards every call to it.
type Guardian struct {
	cfg        Config
	client     *http.Client
	classifier *fault.Classifier
	log        *slog.Logger
	prober     Prober
	now        func() time.Time
	afterFunc  func(time.Duration, func()) Timer
	probes     singleflight.Group

	initOnce sync.Once
	initErr  error

	mu          sync.RWMutex
	configured  bool
	connected   bool
	attempts    int
	lastCheckAt time.Time
	reconnect   Timer
	closed      bool
}

// NewGuardian creates an unconfigured Guardian. Call Initialize before use.
func NewGuardian(cfg Config, opts ...Option) *Guardian {
	g := &Guardian{
		cfg:        cfg.withDefaults(),
		classifier: fault.NewClassifier(fault.DefaultOptions()),
		log:        slog.Default(),
		now:        time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = &http.Client{
			Transport: otelhttp.NewTransport(&http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			}),
		}
	}
	if g.prober == nil {
		g.prober = ProberFunc(g.restProbe)
	}
	return g
}

// Initialize validates the credentials once. A nil error means the backend is
// configured; otherwise the error wraps fault.ErrNotConfigured and the
// Guardian stays in degraded mode for its whole lifetime. Later calls return
// the first outcome.
func (g *Guardian) Initialize(rawURL, key string) error {
	g.initOnce.Do(func() {
		u, err := validateCredentials(rawURL, key, g.cfg.Mode != ModePostgres)
		if err != nil {
			g.initErr = err
			g.log.Warn("Backend not configured, running in degraded mode", "reason", err)
			metrics.BackendConfigured.Set(0)
			return
		}
		g.mu.Lock()
		g.cfg.URL = strings.TrimRight(u.String(), "/")
		g.cfg.Key = strings.TrimSpace(key)
		g.configured = true
		g.mu.Unlock()
		metrics.BackendConfigured.Set(1)
		g.log.Info("Backend configured", "host", u.Host)
	})
	return g.initErr
}

var placeholderMarkers = []string{
	"your-project",
	"your-anon-key",
	"your-api-key",
	"your-service-key",
	"placeholder",
	"changeme",
	"${",
}

// validateCredentials checks the url and, when requireKey is set, the key.
// A direct database DSN carries its own credentials.
func validateCredentials(rawURL, key string, requireKey bool) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	key = strings.TrimSpace(key)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: missing url", fault.ErrNotConfigured)
	}
	if key == "" && requireKey {
		return nil, fmt.Errorf("%w: missing key", fault.ErrNotConfigured)
	}
	for _, v := range []string{rawURL, key} {
		lower := strings.ToLower(v)
		for _, marker := range placeholderMarkers {
			if strings.Contains(lower, marker) {
				return nil, fmt.Errorf("%w: placeholder value %q", fault.ErrNotConfigured, marker)
			}
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed url: %v", fault.ErrNotConfigured, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be absolute", fault.ErrNotConfigured)
	}
	return u, nil
}

// IsConfigured reports whether Initialize succeeded.
func (g *Guardian) IsConfigured() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.configured
}

// IsReady reports configured && connected. It never touches the network.
func (g *Guardian) IsReady() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.configured && g.connected
}

// Status returns a snapshot of the connection state.
func (g *Guardian) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Status{
		Configured:  g.configured,
		Connected:   g.connected,
		Attempts:    g.attempts,
		LastCheckAt: g.lastCheckAt,
	}
}

// MaxRetries returns the bound on consecutive reconnection attempts.
func (g *Guardian) MaxRetries() int { return g.cfg.MaxRetries }

// Endpoint resolves a path below the REST root of the backend.
func (g *Guardian) Endpoint(path string) string {
	g.mu.RLock()
	base := g.cfg.URL
	g.mu.RUnlock()
	return base + g.cfg.RESTPath + "/" + strings.TrimLeft(path, "/")
}

// GuardedCall sends req with the backend credentials and a hard timeout.
//
// A completed round trip, whatever its HTTP status, marks the backend
// connected. A transport failure marks it disconnected and may schedule a
// reconnection probe. The transport error is always returned unchanged.
// The caller must close the response body.
func (g *Guardian) GuardedCall(ctx context.Context, req *http.Request) (*http.Response, error) {
	g.mu.RLock()
	configured := g.configured
	key := g.cfg.Key
	g.mu.RUnlock()
	if !configured {
		return nil, fault.ErrNotConfigured
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	req = req.WithContext(callCtx)
	if req.Header.Get("apikey") == "" {
		req.Header.Set("apikey", key)
	}
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if req.Header.Get("X-Request-Id") == "" {
		req.Header.Set("X-Request-Id", uuid.NewString())
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			// The caller gave up; only our own timeout speaks for the backend.
			metrics.BackendCalls.WithLabelValues("canceled").Inc()
			return nil, err
		}
		g.observe(err, latency)
		return nil, err
	}

	g.observe(nil, latency)
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// Track runs fn under the same timeout and state bookkeeping as GuardedCall,
// for transports that are not plain HTTP (e.g. a direct database session).
func (g *Guardian) Track(ctx context.Context, fn func(ctx context.Context) error) error {
	if !g.IsConfigured() {
		return fault.ErrNotConfigured
	}
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	if err != nil && ctx.Err() != nil {
		metrics.BackendCalls.WithLabelValues("canceled").Inc()
		return err
	}
	g.observe(err, time.Since(start))
	return err
}

func (g *Guardian) observe(err error, latency time.Duration) {
	metrics.BackendLatency.Observe(latency.Seconds())
	switch {
	case err == nil:
		metrics.BackendCalls.WithLabelValues("ok").Inc()
		g.markReachable()
	case g.classifier.IsTransportFailure(err):
		metrics.BackendCalls.WithLabelValues("transport_error").Inc()
		g.markUnreachable(err)
	default:
		// The backend answered; the error belongs to the caller.
		metrics.BackendCalls.WithLabelValues("backend_error").Inc()
		g.markReachable()
	}
}

func (g *Guardian) markReachable() {
	g.mu.Lock()
	restored := !g.connected
	g.connected = true
	g.attempts = 0
	if g.reconnect != nil {
		g.reconnect.Stop()
		g.reconnect = nil
	}
	g.mu.Unlock()

	metrics.BackendConnected.Set(1)
	metrics.BackendReconnectAttempts.Set(0)
	if restored {
		g.log.Info("Backend connection established")
	}
}

func (g *Guardian) markUnreachable(cause error) {
	g.mu.Lock()
	wasConnected := g.connected
	g.connected = false
	var delay time.Duration
	if g.attempts < g.cfg.MaxRetries {
		g.attempts++
		delay = g.cfg.RetryDelay * time.Duration(g.attempts)
		if !g.closed {
			if g.reconnect != nil {
				g.reconnect.Stop()
			}
			g.reconnect = g.afterFunc(delay, g.reconnectProbe)
		}
	}
	attempts := g.attempts
	g.mu.Unlock()

	metrics.BackendConnected.Set(0)
	metrics.BackendReconnectAttempts.Set(float64(attempts))
	if wasConnected {
		g.log.Warn("Backend connection lost", "error", cause)
	}
	if delay > 0 {
		g.log.Debug("Reconnection probe scheduled", "attempt", attempts, "max", g.cfg.MaxRetries, "delay", delay)
	} else {
		g.log.Warn("Reconnection attempts exhausted", "attempts", attempts)
	}
}

func (g *Guardian) reconnectProbe() {
	g.mu.Lock()
	g.reconnect = nil
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return
	}

	g.probe(context.Background())
}

// CheckConnection probes the backend unless a probe already ran within the
// check interval, in which case the cached result is returned. It returns
// false without any network call when the backend is not configured.
func (g *Guardian) CheckConnection(ctx context.Context) bool {
	g.mu.RLock()
	configured := g.configured
	connected := g.connected
	last := g.lastCheckAt
	g.mu.RUnlock()

	if !configured {
		return false
	}
	if !last.IsZero() && g.now().Sub(last) < g.cfg.CheckInterval {
		return connected
	}
	return g.probe(ctx)
}

// probe runs the prober, collapsing concurrent callers onto one request.
// The probe outlives a caller that gives up; that caller gets the last known
// state.
func (g *Guardian) probe(ctx context.Context) bool {
	probeCtx := context.WithoutCancel(ctx)
	ch := g.probes.DoChan("probe", func() (any, error) {
		started := g.now()
		err := g.prober.Probe(probeCtx)
		ok := err == nil

		g.mu.Lock()
		// Stamped with the start time so a caller polling at the check
		// interval is never served the cached result.
		g.lastCheckAt = started
		g.connected = ok
		if ok {
			g.attempts = 0
		}
		g.mu.Unlock()

		if ok {
			metrics.Probes.WithLabelValues("ok").Inc()
			metrics.BackendConnected.Set(1)
		} else {
			metrics.Probes.WithLabelValues("failed").Inc()
			metrics.BackendConnected.Set(0)
			g.log.Debug("Backend probe failed", "error", err)
		}
		return ok, nil
	})

	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return g.IsReady()
	}
}

// restProbe reads at most one row of the probe table, or the REST root when
// no table is configured.
func (g *Guardian) restProbe(ctx context.Context) error {
	endpoint := g.Endpoint("")
	if g.cfg.ProbeTable != "" {
		endpoint = g.Endpoint(g.cfg.ProbeTable) + "?select=*&limit=1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	resp, err := g.GuardedCall(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &fault.APIError{Status: resp.StatusCode, Message: "probe failed"}
	}
	return nil
}

// Close stops any pending reconnection probe and releases idle connections.
func (g *Guardian) Close() error {
	g.mu.Lock()
	g.closed = true
	if g.reconnect != nil {
		g.reconnect.Stop()
		g.reconnect = nil
	}
	g.mu.Unlock()
	g.client.CloseIdleConnections()
	return nil
}

// cancelOnClose releases the per-call timeout once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
