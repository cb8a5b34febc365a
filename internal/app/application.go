package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"liveroom/internal/api"
	"liveroom/internal/config"
	"liveroom/internal/database"
	"liveroom/internal/logger"
	"liveroom/internal/notify"
	pkgdatabase "liveroom/pkg/database"
	"liveroom/pkg/types"
)

// Application coordinates the server components
// ARCHITECTURAL DISCOVERY: initialization follows strict dependency order
// Database → Registry → Hub → Bus → API → HTTP, shutdown runs it backwards
type Application struct {
	config     *config.Config
	log        *logger.Logger
	dbManager  *database.Manager
	registry   *notify.Registry
	hub        *notify.Hub
	bus        notify.Bus
	limiter    *api.RateLimiter
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	serveErr chan error
}

// NewApplication opens and migrates the database and wires every component.
// Nothing listens until Start.
func NewApplication(cfg *config.Config, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log = logger.OrNop(log)

	// STEP 1: database, migrations and schema check
	dbManager, err := database.NewManager(cfg.DatabaseSettings(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	if err := pkgdatabase.NewMigrationManager(dbManager.GetDB(), nil).ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).Validate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// STEP 2: change feed
	registry := notify.NewRegistry()
	hub := notify.NewHub(registry, log)
	wsHandler := notify.NewHandler(hub, notify.HandlerConfig{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	}, log)

	// STEP 3: HTTP API; the bus is chosen in Start because redis needs a context
	app := &Application{
		config:    cfg,
		log:       log.With("component", "app"),
		dbManager: dbManager,
		registry:  registry,
		hub:       hub,
		limiter:   api.NewRateLimiter(cfg.HTTP.WritesPerMinute),
	}
	app.apiServer = api.NewServer(dbManager, deferredBus{app}, registry, app.limiter, log)
	app.apiServer.Mount("GET /ws", wsHandler)

	app.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return app, nil
}

// Start runs the hub, connects the bus and begins serving. It returns once
// the listener is bound.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return errors.New("application already started")
	}

	runCtx, cancel := context.WithCancel(ctx)

	// STEP 1: hub first so subscribers can register as soon as HTTP is up
	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start hub: %w", err)
	}

	// STEP 2: bus
	bus, err := app.openBus(runCtx)
	if err != nil {
		_ = app.hub.Stop()
		cancel()
		return err
	}
	app.bus = bus

	// STEP 3: limiter housekeeping
	go app.limiter.RunCleanup(runCtx, app.config.HTTP.RateLimiterCleanup)

	// STEP 4: listen, then serve in the background
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = bus.Close()
		_ = app.hub.Stop()
		cancel()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln
	app.cancel = cancel
	app.serveErr = make(chan error, 1)

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(app.serveErr)
	}()

	app.log.Info("liveroom server started", "addr", ln.Addr().String(), "redis", app.config.Redis.Enabled())
	return nil
}

func (app *Application) openBus(ctx context.Context) (notify.Bus, error) {
	if !app.config.Redis.Enabled() {
		return notify.NewLocalBus(app.hub), nil
	}
	rb, err := notify.NewRedisBus(ctx, notify.RedisOptions{
		Addr:     app.config.Redis.Addr,
		Password: app.config.Redis.Password,
		DB:       app.config.Redis.DB,
		Channel:  app.config.Redis.Channel,
	}, app.hub, app.log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect redis bus: %w", err)
	}
	if err := rb.StartForwarder(ctx); err != nil {
		_ = rb.Close()
		return nil, fmt.Errorf("failed to start redis forwarder: %w", err)
	}
	return rb, nil
}

func (app *Application) currentBus() notify.Bus {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.bus
}

// deferredBus is handed to the API at construction and forwards to the bus
// chosen by Start.
type deferredBus struct{ app *Application }

func (d deferredBus) Publish(ctx context.Context, evt types.ChangeEvent) error {
	bus := d.app.currentBus()
	if bus == nil {
		return errors.New("change feed not started")
	}
	return bus.Publish(ctx, evt)
}

func (d deferredBus) Close() error { return nil }

// Errors reports a serve failure after Start returned; it is closed when
// the server stops.
func (app *Application) Errors() <-chan error {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.serveErr
}

// Stop shuts down in reverse order: HTTP → bus → hub → database.
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	cancel := app.cancel
	bus := app.bus
	started := app.listener != nil
	app.mu.Unlock()

	var errs []error
	if started {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if bus != nil {
			if err := bus.Close(); err != nil {
				errs = append(errs, fmt.Errorf("bus close: %w", err))
			}
		}
		if err := app.hub.Stop(); err != nil && !errors.Is(err, notify.ErrHubNotRunning) {
			errs = append(errs, fmt.Errorf("hub stop: %w", err))
		}
		// hijacked sockets survive http.Server.Shutdown
		if n := app.registry.CloseAll(); n > 0 {
			app.log.Info("closed change-feed subscribers", "count", n)
		}
		cancel()
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	app.log.Info("liveroom server stopped")
	return errors.Join(errs...)
}

// Addr is the bound listener address once started, else the configured one.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
