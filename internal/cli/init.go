// Package cli provides common process initialization shared by caixactl and
// caixa-worker.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"

	"caixa/internal/amqp"
	"caixa/internal/backend"
	"caixa/internal/cache"
	"caixa/internal/catalog"
	"caixa/internal/config"
	"caixa/internal/engine"
	"caixa/internal/log"
	"caixa/internal/services"
	"caixa/internal/storage"
)

// SetupLogger initializes structured logging at the given level and sets it
// as the default logger.
func SetupLogger(level string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(level)
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration from the environment and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App is every long-lived component of a caixa process, wired together.
type App struct {
	Config      *config.Config
	Location    *time.Location
	Catalog     *catalog.Catalog
	Ledger      *storage.LedgerRepository
	Store       cache.Store
	Engine      *engine.Engine
	Coordinator *engine.Coordinator
	// Broker is nil when AMQP is disabled or unreachable.
	Broker  *amqp.Client
	Service *services.LedgerService
	Origin  string
	Logger  *log.Logger

	storeCleanup backend.CleanupFunc
}

type bootstrapOptions struct {
	clock         clockwork.Clock
	requireBroker bool
}

type BootstrapOption func(*bootstrapOptions)

func WithClock(c clockwork.Clock) BootstrapOption {
	return func(o *bootstrapOptions) { o.clock = c }
}

// RequireBroker fails the bootstrap when AMQP is configured but cannot be
// reached. Without it the process runs without broadcasting.
func RequireBroker() BootstrapOption {
	return func(o *bootstrapOptions) { o.requireBroker = true }
}

// Bootstrap opens the ledger, builds the cache store and engine and connects
// to the broker when one is configured.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *log.Logger, opts ...BootstrapOption) (*App, error) {
	o := bootstrapOptions{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentApp)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load(cfg.MetricsCatalog)
	if err != nil {
		return nil, fmt.Errorf("load metrics catalog: %w", err)
	}

	ledger, err := storage.NewLedgerRepository(cfg.SQLiteDBPath, loc)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", cfg.SQLiteDBPath, err)
	}

	storeCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		ledger.Close()
		return nil, err
	}
	storeCfg.Clock = o.clock
	result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateStore(ctx, storeCfg)
	if err != nil {
		ledger.Close()
		return nil, err
	}

	eng := engine.New(cat, ledger, result.Store,
		engine.WithClock(o.clock),
		engine.WithLocation(loc),
		engine.WithLogger(logger))
	coord := engine.NewCoordinator(eng)

	app := &App{
		Config:       cfg,
		Location:     loc,
		Catalog:      cat,
		Ledger:       ledger,
		Store:        result.Store,
		Engine:       eng,
		Coordinator:  coord,
		Origin:       amqp.NewOriginID(),
		Logger:       logger,
		storeCleanup: result.Cleanup,
	}

	// A nil *amqp.Client must not reach the service as a non-nil interface.
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
			amqp.WithClock(o.clock), amqp.WithLogger(logger))
		switch {
		case err == nil:
			app.Broker = client
			publisher = client
			logger.InfoContext(ctx, "AMQP broker connected", "exchange", cfg.AMQPExchange)
		case o.requireBroker:
			result.Cleanup()
			ledger.Close()
			return nil, fmt.Errorf("connect AMQP: %w", err)
		default:
			logger.LogDegraded(ctx, "AMQP broker unreachable, writes will not be broadcast", err, log.OpStartup,
				log.NewFields().WithErrorType(log.ErrorTypeNetwork))
		}
	} else {
		logger.DebugContext(ctx, "AMQP disabled - no AMQP_URL provided")
	}

	app.Service = services.NewLedgerService(ledger, coord, publisher, app.Origin, logger)
	return app, nil
}

// Close releases the ledger, the broker connection and the cache store.
func (a *App) Close() error {
	var errs []error
	if err := a.Service.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.storeCleanup != nil {
		if err := a.storeCleanup(); err != nil {
			errs = append(errs, fmt.Errorf("cache store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup has run.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
