package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrInvalidInterval is returned for a non-positive polling interval.
var ErrInvalidInterval = errors.New("scheduler: interval must be positive")

const defaultFirstDelay = 10 * time.Second

// TickFunc is invoked on every scheduled fire with the fire time.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// FirstDelay is the wait before the first fire after Run or Reschedule.
	FirstDelay time.Duration
	Location   *time.Location
}

// Scheduler drives a repeating job whose interval can change at runtime.
// A change cancels the pending fire and re-arms with the new interval; at
// most one tick runs at a time.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	cron   *cron.Cron
	now    func() time.Time

	mu       sync.Mutex
	interval time.Duration
	job      cron.Job
	entry    cron.EntryID
	armed    bool
}

// New constructs a Scheduler. It returns ErrInvalidInterval for a
// non-positive interval.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if opts.FirstDelay <= 0 {
		opts.FirstDelay = defaultFirstDelay
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	log := logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		opts:     opts,
		logger:   log,
		cron:     cron.New(cron.WithLocation(opts.Location), cron.WithLogger(cronLogger{log: log})),
		now:      time.Now,
		interval: opts.Interval,
	}, nil
}

// Interval returns the current polling interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Run arms the job and blocks until ctx is cancelled, then waits for a
// running tick to finish.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	adapter := cronLogger{log: s.logger}
	job := cron.NewChain(
		cron.Recover(adapter),
		cron.SkipIfStillRunning(adapter),
	).Then(cron.FuncJob(func() {
		at := s.now().In(s.opts.Location)
		s.logger.Info().Time("at", at).Msg("executing scheduled tick")
		if err := tick(ctx, at); err != nil {
			s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
		}
	}))

	s.mu.Lock()
	s.job = job
	s.armLocked()
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Dur("interval", s.Interval()).Msg("scheduler started")

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()

	s.mu.Lock()
	s.armed = false
	s.mu.Unlock()

	s.logger.Info().Msg("scheduler stopped")
	return ctx.Err()
}

// Reschedule replaces the interval. When the scheduler is running, the
// pending fire is cancelled and the job re-armed so the next fire happens
// after FirstDelay and then every interval. Invalid intervals leave the
// current schedule untouched.
func (s *Scheduler) Reschedule(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.interval
	s.interval = interval
	if s.job != nil {
		s.armLocked()
	}
	s.logger.Info().Dur("previous", prev).Dur("interval", interval).Msg("interval changed")
	return nil
}

// armLocked removes any pending entry before adding the new one, so exactly
// one entry exists afterwards. Callers hold s.mu.
func (s *Scheduler) armLocked() {
	if s.armed {
		s.cron.Remove(s.entry)
	}
	first := s.now().Add(s.opts.FirstDelay)
	s.entry = s.cron.Schedule(delayedSchedule{
		first: first,
		every: cron.Every(s.interval),
	}, s.job)
	s.armed = true
	s.logger.Debug().Time("first_fire", first).Dur("interval", s.interval).Msg("job armed")
}

func (s *Scheduler) entryCount() int {
	return len(s.cron.Entries())
}

// delayedSchedule fires once at first and then every interval after that.
type delayedSchedule struct {
	first time.Time
	every cron.ConstantDelaySchedule
}

func (d delayedSchedule) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.every.Next(t)
}

// cronLogger routes cron's internal logging to zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
