package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vietddude/rentdesk/internal/core/config"
	"github.com/vietddude/rentdesk/internal/core/fault"
	"github.com/vietddude/rentdesk/internal/core/worker"
	"github.com/vietddude/rentdesk/internal/infra/backend"
	"github.com/vietddude/rentdesk/internal/infra/backend/rest"
	redisclient "github.com/vietddude/rentdesk/internal/infra/redis"
	"github.com/vietddude/rentdesk/internal/infra/retry"
	"github.com/vietddude/rentdesk/internal/infra/storage"
	"github.com/vietddude/rentdesk/internal/infra/storage/memory"
	"github.com/vietddude/rentdesk/internal/infra/storage/postgres"
	"github.com/vietddude/rentdesk/internal/infra/tracing"
	"github.com/vietddude/rentdesk/internal/rental"
	"github.com/vietddude/rentdesk/internal/status"
)

// App wires the connection guardian, data services, status observer and
// HTTP server together and manages their lifecycle.
type App struct {
	cfg         *config.AppConfig
	guardian    *backend.Guardian
	observer    *status.Observer
	sub         *status.Subscription
	server      *status.Server
	db          *postgres.DB
	redisClient *redisclient.Client
	stopTracing func(context.Context) error
	pruner      *worker.Pruner
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	migrateMu   sync.Mutex
	migrated    bool
	migrating   bool
	stopping    bool
	unsubscribe func()
	log         *slog.Logger

	Tenants    *rental.Tenants
	Properties *rental.Properties
}

// NewApp creates a new App. Missing or invalid backend credentials do not
// fail construction: the app runs in degraded mode and every data operation
// returns fault.ErrNotConfigured.
func NewApp(ctx context.Context, cfg *config.AppConfig, version string) (*App, error) {
	a := &App{cfg: cfg, log: slog.Default()}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx, tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version,
			UseStdout:      cfg.Tracing.Stdout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		a.stopTracing = shutdown
	}

	classifier := fault.NewClassifier(fault.Options{TransientCodes: cfg.Retry.TransientCodes})
	opts := []backend.Option{
		backend.WithClassifier(classifier),
		backend.WithLogger(a.log.With("component", "guardian")),
	}

	// 1. Backend transport
	var store storage.Store
	target := cfg.Backend.URL
	switch cfg.Backend.Mode {
	case backend.ModePostgres:
		// The pool connects lazily; an unreachable database leaves the app
		// degraded until the guardian sees it answer.
		var (
			g  *backend.Guardian
			db *postgres.DB
		)
		opts = append(opts, backend.WithProber(backend.ProberFunc(func(ctx context.Context) error {
			return g.Track(ctx, db.Health)
		})))
		g = backend.NewGuardian(cfg.Backend, opts...)
		a.guardian = g
		target = cfg.Database.URL
		// A failure is logged by the guardian and leaves it in degraded mode.
		if g.Initialize(target, cfg.Backend.Key) == nil {
			var err error
			db, err = postgres.Open(cfg.Database)
			if err != nil {
				return nil, fmt.Errorf("failed to init db: %w", err)
			}
			a.db = db
		}
		// Track rejects every query while unconfigured, so db is never used nil.
		store = postgres.NewStore(db, g)
		a.log.Info("Using PostgreSQL backend")
	default:
		a.guardian = backend.NewGuardian(cfg.Backend, opts...)
		_ = a.guardian.Initialize(target, cfg.Backend.Key)
		store = rest.NewClient(a.guardian)
		a.log.Info("Using REST backend")
	}

	// 2. List cache
	if cfg.Cache.Enabled {
		var cache storage.Cache
		if cfg.Redis.URL != "" {
			client, err := redisclient.NewClient(cfg.Redis)
			if err != nil {
				a.log.Warn("Failed to connect to Redis, using in-memory cache", "error", err)
			} else {
				a.redisClient = client
				cache = client
			}
		}
		if cache == nil {
			local := memory.NewCache()
			a.pruner = worker.NewPruner("cache", local, cfg.Cache.TTL+cfg.Cache.StaleFor)
			cache = local
		}
		store = storage.NewCachedStore(store, cache, cfg.Cache.TTL,
			storage.WithStaleFor(cfg.Cache.StaleFor),
			storage.WithCacheClassifier(classifier),
			storage.WithCacheLogger(a.log.With("component", "cache")),
		)
	}

	// 3. Data services, one executor per resource
	newExecutor := func(resource string) *retry.Executor {
		return retry.NewExecutor(resource, a.guardian, cfg.Retry.Policy,
			retry.WithClassifier(classifier),
			retry.WithLogger(a.log.With("component", "retry")),
		)
	}
	a.Tenants = rental.NewTenants(store, newExecutor(rental.TenantsTable))
	a.Properties = rental.NewProperties(store, newExecutor(rental.PropertiesTable))

	// 4. Status observer and server
	var source status.Source
	if a.guardian.IsConfigured() {
		ds, err := status.NewDialSource(target, cfg.Observer.NetworkProbeInterval)
		if err != nil {
			a.log.Warn("Network presence source disabled", "error", err)
		} else {
			source = ds
		}
	}
	a.observer = status.NewObserver(a.guardian, source, cfg.Observer, a.log.With("component", "observer"))
	a.server = status.NewServer(a.observer, cfg.Server.Port, a.log)
	status.Register(a.server, rental.TenantsTable, a.Tenants, "property_id")
	status.Register(a.server, rental.PropertiesTable, a.Properties)

	return a, nil
}

// Guardian returns the connection guardian.
func (a *App) Guardian() *backend.Guardian { return a.guardian }

// Observer returns the connection-status observer.
func (a *App) Observer() *status.Observer { return a.observer }

// Handler returns the HTTP handler served by Start.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Start starts the HTTP server and the observer. It does not block.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	go func() {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Status server failed", "error", err)
		}
	}()

	a.sub = a.observer.Start(ctx)

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
		a.migrateOnConnect(ctx)
	}
	if a.pruner != nil {
		go a.pruner.Start(ctx)
	}

	if a.guardian.IsConfigured() {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if a.observer.CheckConnection(ctx) {
				a.log.Info("Backend reachable")
			} else {
				a.log.Warn("Backend unreachable at startup, continuing in offline mode")
			}
		}()
	}

	a.log.Info("Rentdesk started", "port", a.cfg.Server.Port, "mode", a.cfg.Backend.Mode)
	return nil
}

// migrateOnConnect applies the schema the first time the database answers.
// A failed run is retried on the next connected snapshot.
func (a *App) migrateOnConnect(ctx context.Context) {
	a.unsubscribe = a.observer.Subscribe(func(snap status.Snapshot) {
		if snap.Connected {
			a.migrate(ctx)
		}
	})
	if a.observer.Snapshot().Connected {
		a.migrate(ctx)
	}
}

func (a *App) migrate(ctx context.Context) {
	a.migrateMu.Lock()
	defer a.migrateMu.Unlock()
	if a.migrated || a.migrating || a.stopping {
		return
	}
	a.migrating = true

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := a.db.Migrate(ctx)

		a.migrateMu.Lock()
		a.migrating = false
		a.migrated = err == nil
		a.migrateMu.Unlock()

		if err != nil {
			a.log.Error("Schema migration failed, will retry on reconnect", "error", err)
			return
		}
		a.log.Info("Schema migrated")
	}()
}

// Stop releases every component. It is safe to call after a failed Start.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping Rentdesk...")

	var errs []error
	if err := a.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop server: %w", err))
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.sub != nil {
		a.sub.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.migrateMu.Lock()
	a.stopping = true
	a.migrateMu.Unlock()
	a.wg.Wait()
	_ = a.guardian.Close()

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	if a.stopTracing != nil {
		if err := a.stopTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}
