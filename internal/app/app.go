package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/docker/go-units"

	"github.com/switchboard-dev/switchboard/internal/adapter/breaker"
	"github.com/switchboard-dev/switchboard/internal/adapter/cache"
	"github.com/switchboard-dev/switchboard/internal/adapter/metrics"
	"github.com/switchboard-dev/switchboard/internal/adapter/pool"
	"github.com/switchboard-dev/switchboard/internal/adapter/provider"
	"github.com/switchboard-dev/switchboard/internal/config"
	"github.com/switchboard-dev/switchboard/internal/core/domain"
	"github.com/switchboard-dev/switchboard/internal/core/ports"
	"github.com/switchboard-dev/switchboard/internal/logger"
	"github.com/switchboard-dev/switchboard/internal/router"
	"github.com/switchboard-dev/switchboard/internal/worker"
	"github.com/switchboard-dev/switchboard/pkg/eventbus"
)

// Application wires the gateway together: registry, breaker, cache, pool,
// router, metrics, workers, and the HTTP front door. Everything is constructed
// here and passed by reference; no package-level singletons.
type Application struct {
	config *config.Config
	logger *logger.StyledLogger

	registry   *provider.Registry
	breaker    *breaker.CircuitBreaker
	cache      *cache.ResponseCache
	pool       *pool.ConnectionPool
	router     *router.Router
	aggregator *metrics.Aggregator
	hub        *metrics.Hub
	broadcast  *metrics.Broadcaster
	supervisor *worker.Supervisor
	outcomes   *eventbus.Bus[metrics.OutcomeEvent]
	observer   ports.Observer

	server *http.Server

	// admission slots for the global concurrency cap
	slots chan struct{}

	busCancel context.CancelFunc
	errCh     chan error
}

// New builds the application from validated configuration.
func New(cfg *config.Config, log *logger.StyledLogger) (*Application, error) {
	registry := provider.NewRegistry(log)

	circuitBreaker := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	}, log)

	responseCache := cache.New(cache.Config{
		MaxEntries:       cfg.Cache.MaxEntries,
		MaxBytes:         cfg.Cache.MaxBytes,
		DefaultTTL:       cfg.Cache.DefaultTTL,
		MaxTTL:           cfg.Cache.MaxTTL,
		HitRateThreshold: cfg.Cache.HitRateThreshold,
		AdaptiveTTL:      cfg.Cache.AdaptiveTTL,
	}, log)

	connPool := pool.New(pool.Config{
		MaxConnections:      cfg.Pool.MaxConnections,
		MaxAge:              cfg.Pool.MaxAge,
		IdleTimeout:         cfg.Pool.IdleTimeout,
		MaxRequestsPerEntry: cfg.Pool.MaxRequestsPerEntry,
	}, log)

	aggregatorCfg := metrics.DefaultConfig()
	aggregatorCfg.HistoryPoints = cfg.Metrics.HistoryPoints
	aggregatorCfg.SampleInterval = cfg.Metrics.SampleInterval
	aggregator := metrics.NewAggregator(aggregatorCfg, log)

	hub := metrics.NewHub(metrics.HubConfig{
		MaxConnections: cfg.Metrics.MaxWSConnections,
		PongTimeout:    cfg.Metrics.PongTimeout,
		BearerToken:    cfg.Auth.BearerToken,
	}, log)

	outcomes := eventbus.New[metrics.OutcomeEvent]()
	observer := metrics.NewBusObserver(outcomes)

	dispatcher := router.New(router.Config{
		BaseDelay:        cfg.Retry.BaseDelay,
		MaxDelay:         cfg.Retry.MaxDelay,
		JitterFraction:   cfg.Retry.JitterFraction,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		CacheEnabled:     cfg.Cache.Enabled,
	}, registry, circuitBreaker, responseCache, connPool, observer, aggregator, log)

	app := &Application{
		config:     cfg,
		logger:     log,
		registry:   registry,
		breaker:    circuitBreaker,
		cache:      responseCache,
		pool:       connPool,
		router:     dispatcher,
		aggregator: aggregator,
		hub:        hub,
		broadcast:  metrics.NewBroadcaster(aggregator, hub, cfg.Metrics.BroadcastInterval, log),
		supervisor: worker.NewSupervisor(cfg.Workers.StaleActivityThreshold, log),
		outcomes:   outcomes,
		observer:   observer,
		slots:      make(chan struct{}, maxConcurrent(cfg)),
		errCh:      make(chan error, 1),
	}

	aggregator.SetProviderStatusFunc(app.providerStatus)
	aggregator.SetConnectionsFunc(func() int { return connPool.Stats().InFlight })

	for i := range cfg.Providers {
		if err := app.registerProvider(&cfg.Providers[i]); err != nil {
			return nil, fmt.Errorf("provider %q: %w", cfg.Providers[i].Name, err)
		}
	}

	app.server = &http.Server{
		Addr:         cfg.Listen.GetAddress(),
		Handler:      app.buildHandler(),
		ReadTimeout:  cfg.Listen.ReadTimeout,
		WriteTimeout: cfg.Listen.WriteTimeout,
	}
	return app, nil
}

func maxConcurrent(cfg *config.Config) int {
	if cfg.Request.MaxConcurrent <= 0 {
		return 256
	}
	return cfg.Request.MaxConcurrent
}

// Start binds the listener, spawns the background workers, and begins serving.
// A bind failure is returned synchronously so main can exit non-zero.
func (a *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", a.server.Addr, err)
	}

	if err := a.spawnWorkers(); err != nil {
		listener.Close()
		return err
	}

	busCtx, cancel := context.WithCancel(context.Background())
	a.busCancel = cancel
	go a.aggregator.ConsumeOutcomes(busCtx, a.outcomes)

	go func() {
		if serveErr := a.server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			a.errCh <- serveErr
		}
	}()

	go func() {
		select {
		case serveErr := <-a.errCh:
			a.logger.Error("Server error", "error", serveErr)
		case <-ctx.Done():
		}
	}()

	a.logger.Info("Switchboard started",
		"bind", a.server.Addr,
		"providers", a.registry.Len(),
		"cache", a.config.Cache.Enabled,
		"max_body", units.BytesSize(float64(a.config.Request.MaxBodyBytes)),
		"cache_cap", units.BytesSize(float64(a.config.Cache.MaxBytes)),
		"max_concurrent", cap(a.slots))
	return nil
}

// Stop drains the HTTP server, stops the workers, and retires shared resources.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.Listen.ShutdownTimeout)
	defer cancel()

	var serverErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		serverErr = fmt.Errorf("HTTP server shutdown: %w", err)
	}

	a.hub.Shutdown()

	leaked := a.supervisor.Shutdown(a.config.Workers.StopTimeout)
	if leaked > 0 {
		a.logger.Warn("Workers leaked during shutdown", "count", leaked)
	}

	if a.busCancel != nil {
		a.busCancel()
	}
	a.outcomes.Shutdown()
	a.pool.Shutdown()

	return serverErr
}

// spawnWorkers starts the supervised maintenance loops.
func (a *Application) spawnWorkers() error {
	reapInterval := a.config.Pool.ReapInterval
	if reapInterval <= 0 {
		reapInterval = 30 * time.Second
	}
	if _, err := a.supervisor.Spawn("pool-reaper", "retires idle upstream connections",
		a.tickBody("pool-reaper", reapInterval, func() { a.pool.ReapIdle() })); err != nil {
		return err
	}

	if a.config.Cache.Enabled {
		scanInterval := a.config.Cache.ScanInterval
		if scanInterval <= 0 {
			scanInterval = time.Minute
		}
		if _, err := a.supervisor.Spawn("cache-scanner", "evicts expired and cold cache entries",
			a.tickBody("cache-scanner", scanInterval, func() { a.cache.Scan() })); err != nil {
			return err
		}
	}

	sampleInterval := a.config.Metrics.SampleInterval
	if sampleInterval <= 0 {
		sampleInterval = time.Second
	}
	if _, err := a.supervisor.Spawn("metrics-sampler", "advances the historical metric rings",
		a.tickBody("metrics-sampler", sampleInterval, a.aggregator.Sample)); err != nil {
		return err
	}

	return a.startBroadcaster()
}

// startBroadcaster spawns the broadcast worker with the broadcaster's body.
func (a *Application) startBroadcaster() error {
	var w *worker.Worker
	body := a.broadcast.Body(func() {
		if w != nil {
			w.Touch()
		}
	})
	spawned, err := a.supervisor.Spawn("ws-broadcaster", "dashboard WebSocket broadcast loop", body)
	if err != nil {
		return err
	}
	w = spawned

	return a.supervisor.StartHealthMonitor(a.config.Workers.HealthCheckInterval)
}

// tickBody wraps a periodic maintenance function in the worker body shape.
func (a *Application) tickBody(name string, interval time.Duration, fn func()) worker.Body {
	return func(stopCh <-chan struct{}) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				fn()
				if w, ok := a.supervisor.Get(name); ok {
					w.Touch()
				}
			}
		}
	}
}

// registerProvider admits one configured provider into the registry.
func (a *Application) registerProvider(pc *config.ProviderConfig) error {
	descriptor := &domain.ProviderDescriptor{
		Name:       pc.Name,
		Kind:       pc.Kind,
		Endpoint:   pc.Endpoint,
		Credential: pc.Credential,
		GroupID:    pc.GroupID,
		Models:     pc.Models,
		Priority:   pc.Priority,
		Timeout:    pc.Timeout,
		MaxRetries: pc.MaxRetries,
		MaxRPS:     pc.MaxRPS,
	}
	_, err := a.registry.Register(descriptor)
	return err
}

// providerStatus is the aggregator's window into live provider health.
func (a *Application) providerStatus(name string) (string, bool, int) {
	reg, ok := a.registry.Get(name)
	if !ok {
		return "", false, 0
	}
	snapshot := reg.State.Snapshot()
	return string(a.breaker.State(name)), snapshot.Healthy, snapshot.RateLimitRemaining
}
