package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"portfolio-bot/internal/chart"
	"portfolio-bot/internal/config"
	"portfolio-bot/internal/fetcher"
	"portfolio-bot/internal/portfolio"
	"portfolio-bot/internal/scheduler"
	"portfolio-bot/internal/service"
	"portfolio-bot/internal/storage"
	"portfolio-bot/internal/telegram"
	"portfolio-bot/internal/version"
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

// ChartOptions configure the chart command.
type ChartOptions struct {
	PNGPath string
	Days    int
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Limit int
}

// newSources builds a source for every provider with credentials, in report
// order. Providers without credentials are left out entirely.
func (a *App) newSources() []fetcher.Source {
	cfg := a.Config
	p := cfg.Providers
	timeout := p.RequestTimeout
	sources := make([]fetcher.Source, 0, 5)

	if cfg.TBankEnabled() {
		sources = append(sources, fetcher.Source{
			ID: "tbank", Label: "T-Bank", Category: fetcher.CategoryBank, Kind: fetcher.DualCurrency,
			Provider: fetcher.NewTBank(fetcher.TBankOptions{
				Token:        p.TBank.Token,
				BaseURL:      p.TBank.BaseURL,
				USDRUBFigi:   p.TBank.USDRUBFigi,
				FallbackRate: a.fallbackRate(),
				Timeout:      timeout,
			}, a.Logger),
		})
	}
	if cfg.BybitEnabled() {
		sources = append(sources, fetcher.Source{
			ID: "bybit", Label: "Bybit", Category: fetcher.CategoryCrypto, Kind: fetcher.SingleCurrency,
			Provider: fetcher.NewBybit(fetcher.BybitOptions{
				APIKey:      p.Bybit.APIKey,
				APISecret:   p.Bybit.APISecret,
				BaseURL:     p.Bybit.BaseURL,
				AccountType: p.Bybit.AccountType,
				RecvWindow:  p.Bybit.RecvWindow,
				Timeout:     timeout,
			}, a.Logger),
		})
	}
	if cfg.OKXEnabled() {
		sources = append(sources, fetcher.Source{
			ID: "okx", Label: "OKX", Category: fetcher.CategoryCrypto, Kind: fetcher.SingleCurrency,
			Provider: fetcher.NewOKX(fetcher.OKXOptions{
				APIKey:     p.OKX.APIKey,
				APISecret:  p.OKX.APISecret,
				Passphrase: p.OKX.Passphrase,
				BaseURL:    p.OKX.BaseURL,
				Simulated:  p.OKX.Simulated,
				Timeout:    timeout,
			}, a.Logger),
		})
	}
	if cfg.WalletEnabled() {
		sources = append(sources, fetcher.Source{
			ID: "wallet", Label: "Wallet", Category: fetcher.CategoryCrypto, Kind: fetcher.SingleCurrency,
			Provider: fetcher.NewWallet(fetcher.WalletOptions{
				RPCURL:  p.Wallet.RPCURL,
				Address: p.Wallet.Address,
				Tokens:  p.Wallet.Tokens,
				Timeout: timeout,
			}, a.Logger),
		})
	}
	if cfg.IBKREnabled() {
		sources = append(sources, fetcher.Source{
			ID: "ibkr", Label: "IBKR", Category: fetcher.CategoryStocks, Kind: fetcher.SingleCurrency,
			Provider: fetcher.NewIBKR(fetcher.IBKROptions{
				FlexToken: p.IBKR.FlexToken,
				QueryID:   p.IBKR.QueryID,
				BaseURL:   p.IBKR.BaseURL,
				Version:   p.IBKR.Version,
				Timeout:   timeout,
			}, a.Logger),
		})
	}
	return sources
}

func (a *App) fallbackRate() decimal.Decimal {
	return decimal.NewFromFloat(a.Config.FX.FallbackRate)
}

func (a *App) newAggregator() *portfolio.Aggregator {
	sources := a.newSources()
	if len(sources) == 0 {
		a.Logger.Warn().Msg("no balance source has credentials; reports will be empty")
	}
	ids := make([]string, 0, len(sources))
	for _, src := range sources {
		ids = append(ids, src.ID)
	}
	a.Logger.Info().Strs("sources", ids).Msg("balance sources enabled")

	// IBKR makes a request and a slower download, so the outer bound covers both.
	return portfolio.NewAggregator(sources, portfolio.Options{
		FallbackRate: a.fallbackRate(),
		Timeout:      4 * a.Config.Providers.RequestTimeout,
	}, a.Logger)
}

func (a *App) openStore() (storage.SnapshotStore, error) {
	loc := a.Config.Location()
	switch a.Config.History.Backend {
	case config.BackendSQLite:
		return storage.NewSQLiteStore(a.Config.History.SQLitePath, loc, a.Logger)
	default:
		return storage.NewFileStore(a.Config.History.Path, loc, a.Logger)
	}
}

func (a *App) openHistory() (*storage.History, func(), error) {
	store, err := a.openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open history store: %w", err)
	}
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close history store")
		}
	}
	return storage.NewHistory(store, a.Config.Location(), a.Logger), closer, nil
}

func (a *App) window() scheduler.Window {
	return scheduler.Window{
		StartHour: a.Config.Schedule.WindowStartHour,
		EndHour:   a.Config.Schedule.WindowEndHour,
		Location:  a.Config.Location(),
	}
}

func (a *App) chartOptions() chart.Options {
	return chart.Options{Width: a.Config.Chart.Width, Height: a.Config.Chart.Height}
}

// Run executes the long-running bot: scheduled reports plus chat commands.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.ValidateBot(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	history, closeHistory, err := a.openHistory()
	if err != nil {
		return err
	}
	defer closeHistory()

	sched, err := scheduler.New(scheduler.Options{
		Interval:   a.Config.PollInterval(),
		FirstDelay: a.Config.Schedule.FirstRunDelay,
		Location:   a.Config.Location(),
	}, a.Logger)
	if err != nil {
		return err
	}

	tg := a.Config.Telegram
	bot := telegram.NewClient(telegram.Options{
		Token:       tg.BotToken,
		BaseURL:     tg.APIBase,
		Timeout:     tg.RequestTimeout,
		PollTimeout: tg.PollTimeout,
		RatePerSec:  tg.SendRatePerSec,
		Burst:       tg.SendBurst,
	}, a.Logger)

	svc := service.New(service.Options{
		ChatID:      tg.ChatID,
		Window:      a.window(),
		HistoryDays: a.Config.History.Days,
		Chart:       a.chartOptions(),
	}, a.newAggregator(), history, sched, bot, bot, a.Logger)

	a.Logger.Info().
		Str("timezone", a.Config.Schedule.Timezone).
		Dur("interval", a.Config.PollInterval()).
		Str("history_backend", a.Config.History.Backend).
		Str("version", version.Version).
		Str("commit", version.Commit).
		Msg("starting portfolio bot")

	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("bot terminated with error")
		return err
	}

	a.Logger.Info().Msg("portfolio bot stopped")
	return nil
}

// Report fetches every source once and writes the formatted report to out.
// No snapshot is recorded.
func (a *App) Report(ctx context.Context, out io.Writer) error {
	summary := a.newAggregator().Summary(ctx)
	_, err := fmt.Fprintln(out, portfolio.FormatMessage(summary, time.Now().In(a.Config.Location())))
	return err
}
