package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"mint-auditor/internal/alerting"
	"mint-auditor/internal/api"
	"mint-auditor/internal/auditor"
	"mint-auditor/internal/config"
	"mint-auditor/internal/geo"
	"mint-auditor/internal/scheduler"
	"mint-auditor/internal/storage"
	"mint-auditor/internal/wallet"
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

func (a *App) newDialer() wallet.Dialer {
	return wallet.NewHTTPDialer(wallet.Options{
		APIBase:     a.Config.Wallet.APIBase,
		Timeout:     a.Config.Wallet.RequestTimeout,
		MeltTimeout: a.Config.Wallet.MeltTimeout,
		UserAgent:   a.Config.Wallet.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, storage.ErrNotConfigured
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	if a.Config.Database.AutoMigrate {
		if err := storage.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running auditor: the swap loop, the refresh loops,
// and (when enabled) the HTTP API, all sharing one store and one wallet
// dialer. It blocks until a signal arrives or a component fails fatally.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	dialer := a.newDialer()
	maintainer := auditor.NewMaintainer(store, dialer, a.Logger)

	// A previous run may have died mid-swap; settle leftover reservations
	// before the loops start competing for proofs.
	if err := maintainer.ReconcileReserved(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.Logger.Warn().Err(err).Msg("startup reservation reconcile incomplete")
	}

	orch := auditor.NewOrchestrator(auditor.Options{
		Ledger:  store,
		Wallets: dialer,
		Selector: auditor.NewSelector(auditor.SelectorConfig{
			MinAmount:           a.Config.Swap.MinAmount,
			MaxAmount:           a.Config.Swap.MaxAmount,
			MinBalanceThreshold: a.Config.Swap.MinBalanceThreshold,
			ReserveRatio:        a.Config.Swap.ReserveRatio,
		}, nil),
		Recoverer:    auditor.NewRecoverer(a.Config.Swap.InvalidateBatchSize, a.Config.Swap.KeysetBumpIncrement, a.Logger),
		Notifier:     a.newNotifier(),
		Locker:       store,
		LockKey:      a.Config.Swap.AdvisoryLockKey,
		SalvageDelay: a.Config.Swap.SalvageDelay,
		CreditDelay:  a.Config.Swap.CreditDelay,
	}, a.Logger)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	launch := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case errCh <- fmt.Errorf("%s: %w", name, err):
				default:
				}
				stop()
			}
		}()
	}

	swapSched := scheduler.New(scheduler.Options{
		MinInterval:  a.Config.Swap.MinDelay,
		MaxInterval:  a.Config.Swap.MaxDelay,
		ErrorBackoff: a.Config.Swap.ErrorBackoff,
	}, a.Logger)
	launch("swap loop", func(ctx context.Context) error {
		return swapSched.Run(ctx, orch.Attempt)
	})

	balanceSched := scheduler.New(scheduler.Options{
		MinInterval: a.Config.Refresh.BalanceInterval,
		MaxInterval: a.Config.Refresh.BalanceInterval,
	}, a.Logger)
	launch("balance refresh", func(ctx context.Context) error {
		return balanceSched.Run(ctx, maintainer.RefreshBalances)
	})

	infoSched := scheduler.New(scheduler.Options{
		MinInterval: a.Config.Refresh.MintInfoInterval,
		MaxInterval: a.Config.Refresh.MintInfoInterval,
	}, a.Logger)
	launch("mint info refresh", func(ctx context.Context) error {
		return infoSched.Run(ctx, maintainer.RefreshMintInfos)
	})

	if a.Config.Geolocation.Enabled {
		resolver := geo.NewResolver(geo.Options{
			DatabaseURL: a.Config.Geolocation.DatabaseURL,
			DataDir:     a.Config.Geolocation.DataDir,
			MaxAge:      a.Config.Geolocation.UpdateInterval,
			Timeout:     a.Config.Geolocation.RequestTimeout,
		}, a.Logger)
		geoSched := scheduler.New(scheduler.Options{
			MinInterval: a.Config.Geolocation.UpdateInterval,
			MaxInterval: a.Config.Geolocation.UpdateInterval,
		}, a.Logger)
		locate := func(ctx context.Context) error {
			if err := resolver.EnsureDatabase(ctx); err != nil {
				return err
			}
			return resolver.LocateMints(ctx, store)
		}
		launch("geolocation", func(ctx context.Context) error {
			// First pass immediately so new mints get coordinates without
			// waiting a full update interval.
			if err := locate(ctx); err != nil && ctx.Err() == nil {
				a.Logger.Warn().Err(err).Msg("initial geolocation pass failed")
			}
			return geoSched.Run(ctx, locate)
		})
	}

	if a.Config.API.Enabled {
		server := api.NewServer(api.Options{
			Store:     store,
			Wallets:   dialer,
			PageLimit: a.Config.API.PageLimit,
		}, a.Logger)
		launch("api", func(ctx context.Context) error {
			return server.Serve(ctx, a.Config.API.ListenAddr)
		})
	}

	a.Logger.Info().Msg("auditor started")
	wg.Wait()

	select {
	case err := <-errCh:
		a.Logger.Error().Err(err).Msg("auditor stopped on error")
		return err
	default:
	}
	a.Logger.Info().Msg("auditor stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting swap history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
