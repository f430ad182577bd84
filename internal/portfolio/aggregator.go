package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"portfolio-bot/internal/fetcher"
)

// DefaultFallbackRate is the USD->RUB rate used when no bank figures exist.
var DefaultFallbackRate = decimal.NewFromInt(90)

const defaultFetchTimeout = 10 * time.Second

// Options tune aggregation.
type Options struct {
	FallbackRate decimal.Decimal
	// Timeout bounds every single provider call.
	Timeout time.Duration
}

// Aggregator fans out to every enabled source and combines the results.
type Aggregator struct {
	sources []fetcher.Source
	opts    Options
	logger  zerolog.Logger
}

// NewAggregator constructs an aggregator over the enabled sources.
func NewAggregator(sources []fetcher.Source, opts Options, logger zerolog.Logger) *Aggregator {
	if !opts.FallbackRate.IsPositive() {
		opts.FallbackRate = DefaultFallbackRate
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFetchTimeout
	}
	return &Aggregator{
		sources: append([]fetcher.Source(nil), sources...),
		opts:    opts,
		logger:  logger.With().Str("component", "aggregator").Logger(),
	}
}

// Sources returns the configured sources in report order.
func (a *Aggregator) Sources() []fetcher.Source {
	return append([]fetcher.Source(nil), a.sources...)
}

// Summary fetches all sources concurrently and always returns a summary;
// per-source failures are recorded in Summary.Errors.
func (a *Aggregator) Summary(ctx context.Context) Summary {
	readings := make([]Reading, len(a.sources))

	var g errgroup.Group
	for i, src := range a.sources {
		i, src := i, src // per-iteration copies (pre-Go 1.22 loop semantics)
		g.Go(func() error {
			readings[i] = a.read(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{
		Readings: readings,
		Errors:   make(map[string]string),
	}
	for _, r := range readings {
		if r.Failed() {
			summary.Errors[r.Source.ID] = r.Err
		}
	}
	summary.computeTotals(a.opts.FallbackRate)

	a.logger.Info().
		Int("sources", len(readings)).
		Int("failed", len(summary.Errors)).
		Str("total_usd", summary.TotalUSD.StringFixed(2)).
		Bool("rate_fallback", summary.RateFallback).
		Msg("portfolio aggregated")
	return summary
}

type fetchResult struct {
	balance fetcher.Balance
	err     error
}

func (a *Aggregator) read(ctx context.Context, src fetcher.Source) Reading {
	reading := Reading{Source: src}

	balance, err := a.fetch(ctx, src)
	if err == nil {
		err = checkShape(src, balance)
	}
	if err != nil {
		a.logger.Error().Err(&fetcher.Error{Source: src.ID, Err: err}).Str("source", src.ID).Msg("balance fetch failed")
		reading.Err = err.Error()
		return reading
	}

	reading.Amount = balance.Amount
	reading.Currency = balance.Currency
	reading.USD = balance.USD
	return reading
}

// fetch bounds the provider call even if the provider ignores ctx, and
// converts a panic into an error value.
func (a *Aggregator) fetch(ctx context.Context, src fetcher.Source) (fetcher.Balance, error) {
	if src.Provider == nil {
		return fetcher.Balance{}, fetcher.ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		balance, err := src.Provider.FetchBalance(ctx)
		done <- fetchResult{balance: balance, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return fetcher.Balance{}, fmt.Errorf("timeout after %s", a.opts.Timeout)
		}
		return res.balance, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fetcher.Balance{}, fmt.Errorf("timeout after %s", a.opts.Timeout)
		}
		return fetcher.Balance{}, ctx.Err()
	}
}

func checkShape(src fetcher.Source, b fetcher.Balance) error {
	switch src.Kind {
	case fetcher.DualCurrency:
		if b.Currency != fetcher.RUB {
			return fmt.Errorf("%w: dual-currency source reported %s", fetcher.ErrMalformed, b.Currency)
		}
	default:
		if b.Currency != fetcher.USD {
			return fmt.Errorf("%w: expected USD, got %s", fetcher.ErrMalformed, b.Currency)
		}
	}
	return nil
}
