package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/heavensprominence/credparity/internal/api"
	"github.com/heavensprominence/credparity/internal/approval"
	"github.com/heavensprominence/credparity/internal/config"
	"github.com/heavensprominence/credparity/internal/feed"
	"github.com/heavensprominence/credparity/internal/parity"
	"github.com/heavensprominence/credparity/internal/scheduler"
	"github.com/heavensprominence/credparity/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if path := a.Config.Database.MigrationsPath; path != "" {
		if err := store.Migrate(ctx, path); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newFeed() feed.RateFetcher {
	switch a.Config.Feed.Driver {
	case "onchain":
		return feed.NewOnchain(feed.OnchainOptions{
			RPCURL:  a.Config.Feed.RPCURL,
			Vaults:  a.Config.Feed.Vaults,
			Timeout: a.Config.Feed.RequestTimeout,
		}, a.Logger)
	default:
		if a.Config.Feed.BaseURL == "" {
			return nil
		}
		return feed.NewHTTP(feed.HTTPOptions{
			BaseURL:   a.Config.Feed.BaseURL,
			Timeout:   a.Config.Feed.RequestTimeout,
			UserAgent: a.Config.Feed.UserAgent,
		}, a.Logger)
	}
}

func (a *App) policy() approval.Policy {
	return approval.Policy{
		AutoMax:       decimal.NewFromFloat(a.Config.Approval.AutoMax),
		AdminMax:      decimal.NewFromFloat(a.Config.Approval.AdminMax),
		SuperAdminMax: decimal.NewFromFloat(a.Config.Approval.SuperAdminMax),
	}
}

func (a *App) sizing() parity.Sizing {
	return parity.Sizing{
		BaseUnit:      decimal.NewFromFloat(a.Config.Parity.BaseUnit),
		CapMultiplier: decimal.NewFromFloat(a.Config.Parity.CapMultiplier),
	}
}

func (a *App) newServices(store *storage.Store, fetcher feed.RateFetcher) (*approval.Engine, *parity.Controller) {
	engine := approval.NewEngine(store, a.policy(), a.Logger)
	controller := parity.New(store, store, store, engine, fetcher, parity.Options{
		Sizing:    a.sizing(),
		Staleness: a.Config.Feed.Staleness,
		Workers:   a.Config.Scheduler.Workers,
	}, a.Logger)
	return engine, controller
}

// Run executes the long-running parity service: the evaluation scheduler plus
// the admin HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	fetcher := a.newFeed()
	if fetcher == nil {
		a.Logger.Warn().Msg("no feed configured; evaluation uses ingested snapshots only")
	}
	engine, controller := a.newServices(store, fetcher)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToTick:  a.Config.Scheduler.AlignToTick,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting evaluation scheduler")
		return sched.Run(ctx, func(ctx context.Context, tick time.Time) error {
			return a.runTick(ctx, store, controller, tick)
		})
	})

	if a.Config.API.Enabled {
		server := api.NewServer(engine, controller, store, store, store, store, a.Logger)
		httpServer := &http.Server{
			Addr:         a.Config.API.ListenAddr,
			Handler:      server.Handler(),
			ReadTimeout:  a.Config.API.ReadTimeout,
			WriteTimeout: a.Config.API.WriteTimeout,
		}

		g.Go(func() error {
			a.Logger.Info().Str("addr", a.Config.API.ListenAddr).Msg("starting admin API")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("parity service stopped")
	return nil
}

// runTick drives one evaluation pass behind the postgres advisory lock so two
// deployments never act on the same tick.
func (a *App) runTick(ctx context.Context, store *storage.Store, controller *parity.Controller, tick time.Time) error {
	unlock, acquired, err := store.TryAdvisoryLock(ctx, a.Config.Scheduler.AdvisoryLockKey)
	if err != nil {
		return err
	}
	if !acquired {
		a.Logger.Debug().Time("tick", tick).Msg("another runner holds the evaluation lock; skipping tick")
		return nil
	}
	defer unlock()

	return controller.EvaluateAll(ctx, tick)
}

// ExportOptions hold parameters for exporting rate history.
type ExportOptions struct {
	Currency  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// TriggerOptions configure a manually triggered mint or burn.
type TriggerOptions struct {
	Currency   string
	ActionType string
	Amount     decimal.Decimal
	Reason     string
	ActorID    string
	ActorRole  string
}

// SubmitOptions configure a transaction submission.
type SubmitOptions struct {
	Amount     decimal.Decimal
	Currency   string
	Type       string
	FromWallet string
	ToWallet   string
}

// DecideOptions configure an approve/reject decision.
type DecideOptions struct {
	TransactionID string
	Decision      string
	ActorID       string
	ActorRole     string
}
