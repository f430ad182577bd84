package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"portfolio-bot/internal/chart"
	"portfolio-bot/internal/portfolio"
	"portfolio-bot/internal/scheduler"
	"portfolio-bot/internal/storage"
	"portfolio-bot/internal/telegram"
)

var (
	// ErrUnauthorized is returned when a command comes from any chat other
	// than the configured one.
	ErrUnauthorized = errors.New("service: unauthorized caller")
	// ErrInvalidFrequency is returned for a /frequency argument that is not
	// a positive whole number of minutes.
	ErrInvalidFrequency = errors.New("service: frequency must be a positive integer")
)

const chartFilename = "portfolio.png"

// Summarizer produces one aggregated portfolio summary per call.
type Summarizer interface {
	Summary(ctx context.Context) portfolio.Summary
}

// History is the best-effort snapshot store.
type History interface {
	SaveSnapshot(ctx context.Context, usd, rub decimal.Decimal)
	Recent(ctx context.Context, n int) []storage.Snapshot
}

// Scheduler owns the repeating report timer.
type Scheduler interface {
	Run(ctx context.Context, tick scheduler.TickFunc) error
	Reschedule(interval time.Duration) error
	Interval() time.Duration
}

// Messenger delivers outbound text and images.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string) error
	SendPhoto(ctx context.Context, chatID, filename string, image []byte, caption string) error
}

// Poller feeds inbound chat messages to a handler until ctx ends.
type Poller interface {
	Poll(ctx context.Context, handle telegram.HandlerFunc) error
}

// Options configure the service.
type Options struct {
	// ChatID is the single identity allowed to issue commands and the
	// destination of scheduled reports.
	ChatID      string
	Window      scheduler.Window
	HistoryDays int
	Chart       chart.Options
}

// Service orchestrates scheduled reports and chat commands.
type Service struct {
	opts       Options
	aggregator Summarizer
	history    History
	scheduler  Scheduler
	messenger  Messenger
	poller     Poller
	logger     zerolog.Logger
	now        func() time.Time
}

// New constructs the bot service. poller may be nil when commands are not
// consumed from a chat transport.
func New(opts Options, aggregator Summarizer, history History, sched Scheduler, messenger Messenger, poller Poller, logger zerolog.Logger) *Service {
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 30
	}
	if opts.Window.Location == nil {
		opts.Window.Location = time.UTC
	}
	return &Service{
		opts:       opts,
		aggregator: aggregator,
		history:    history,
		scheduler:  sched,
		messenger:  messenger,
		poller:     poller,
		logger:     logger.With().Str("component", "service").Logger(),
		now:        time.Now,
	}
}

// Run starts the report scheduler and the command poller and blocks until
// ctx is cancelled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.scheduler.Run(gctx, s.Tick)
	})
	if s.poller != nil {
		g.Go(func() error {
			return s.poller.Poll(gctx, s.handleMessage)
		})
	}

	s.logger.Info().
		Dur("interval", s.scheduler.Interval()).
		Int("window_start", s.opts.Window.StartHour).
		Int("window_end", s.opts.Window.EndHour).
		Msg("bot started")

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Tick runs one scheduled report cycle. Outside the reporting window it does
// nothing. Inside it, the report is sent and today's snapshot saved even if
// delivery failed.
func (s *Service) Tick(ctx context.Context, at time.Time) error {
	local := at.In(s.opts.Window.Location)
	if !s.opts.Window.Contains(local) {
		s.logger.Info().Time("at", local).Msg("outside reporting window, skipping report")
		return nil
	}

	summary := s.aggregator.Summary(ctx)
	text := portfolio.FormatMessage(summary, local)

	if err := s.messenger.SendMessage(ctx, s.opts.ChatID, text); err != nil {
		s.logger.Error().Err(err).Msg("failed to deliver scheduled report")
	} else {
		s.logger.Info().Int("failed_sources", len(summary.Errors)).Msg("scheduled report sent")
	}

	s.history.SaveSnapshot(ctx, summary.TotalUSD, summary.TotalRUB)
	return nil
}

func (s *Service) handleMessage(ctx context.Context, msg telegram.Message) {
	cmd, ok := ParseCommand(msg.Text, chatIdentity(msg.Chat.ID))
	if !ok {
		return
	}
	if err := s.Handle(ctx, cmd); err != nil && !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrInvalidFrequency) {
		s.logger.Error().Err(err).Str("command", cmd.Name).Msg("command failed")
	}
}
