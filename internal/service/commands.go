package service

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"portfolio-bot/internal/chart"
	"portfolio-bot/internal/fetcher"
	"portfolio-bot/internal/portfolio"
	"portfolio-bot/internal/storage"
)

// Command names understood by Handle.
const (
	CommandStatus    = "status"
	CommandFrequency = "frequency"
	CommandHistory   = "history"
	CommandChart     = "chart"
	CommandHelp      = "help"
	commandStart     = "start"
)

const (
	msgUnauthorized = "Unauthorized access."
	msgFetching     = "Fetching data..."
	msgUsage        = "Usage: /frequency &lt;minutes&gt;\nExample: /frequency 60"
	msgInvalid      = "❌ Invalid value. Please provide a positive integer.\nExample: /frequency 60"
	msgNoHistory    = "No portfolio history recorded yet. Data is saved automatically on each scheduled snapshot."
	msgUnknown      = "Unknown command. Send /help for the list of commands."
)

// Command is one inbound request. ChatID identifies the caller and is where
// replies go.
type Command struct {
	Name   string
	Args   []string
	ChatID string
}

// ParseCommand extracts a command from chat text of the form
// "/name[@bot] args...". It reports false for ordinary text.
func ParseCommand(text, chatID string) (Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return Command{}, false
	}
	return Command{
		Name:   strings.ToLower(name),
		Args:   fields[1:],
		ChatID: chatID,
	}, true
}

func chatIdentity(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Handle executes cmd on behalf of its caller. Callers other than the
// configured chat receive a rejection and ErrUnauthorized; nothing else
// happens.
func (s *Service) Handle(ctx context.Context, cmd Command) error {
	if cmd.ChatID != s.opts.ChatID {
		s.logger.Warn().Str("chat_id", cmd.ChatID).Str("command", cmd.Name).Msg("rejected unauthorized command")
		if err := s.reply(ctx, cmd, msgUnauthorized); err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return ErrUnauthorized
	}

	s.logger.Info().Str("command", cmd.Name).Strs("args", cmd.Args).Msg("command received")

	switch cmd.Name {
	case CommandStatus:
		return s.status(ctx, cmd)
	case CommandFrequency:
		return s.setFrequency(ctx, cmd)
	case CommandHistory:
		return s.historyList(ctx, cmd)
	case CommandChart:
		return s.historyChart(ctx, cmd)
	case CommandHelp, commandStart:
		return s.reply(ctx, cmd, s.helpText())
	default:
		return s.reply(ctx, cmd, msgUnknown)
	}
}

// status reports the live portfolio without recording a snapshot.
func (s *Service) status(ctx context.Context, cmd Command) error {
	if err := s.reply(ctx, cmd, msgFetching); err != nil {
		return err
	}
	summary := s.aggregator.Summary(ctx)
	return s.reply(ctx, cmd, portfolio.FormatMessage(summary, s.localNow()))
}

func (s *Service) setFrequency(ctx context.Context, cmd Command) error {
	if len(cmd.Args) != 1 {
		return s.reply(ctx, cmd, msgUsage)
	}

	minutes, err := strconv.Atoi(cmd.Args[0])
	if err != nil || minutes < 1 {
		if replyErr := s.reply(ctx, cmd, msgInvalid); replyErr != nil {
			return replyErr
		}
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, cmd.Args[0])
	}

	if err := s.scheduler.Reschedule(time.Duration(minutes) * time.Minute); err != nil {
		if replyErr := s.reply(ctx, cmd, msgInvalid); replyErr != nil {
			return replyErr
		}
		return fmt.Errorf("%w: %v", ErrInvalidFrequency, err)
	}

	s.logger.Info().Int("minutes", minutes).Msg("report frequency updated")
	return s.reply(ctx, cmd, fmt.Sprintf("✅ Portfolio scan frequency updated to every <b>%d minute(s)</b>.", minutes))
}

func (s *Service) historyList(ctx context.Context, cmd Command) error {
	snaps := s.history.Recent(ctx, s.opts.HistoryDays)
	if len(snaps) == 0 {
		return s.reply(ctx, cmd, msgNoHistory)
	}
	return s.reply(ctx, cmd, FormatHistory(snaps, s.opts.HistoryDays))
}

func (s *Service) historyChart(ctx context.Context, cmd Command) error {
	snaps := s.history.Recent(ctx, s.opts.HistoryDays)
	if len(snaps) == 0 {
		return s.reply(ctx, cmd, msgNoHistory)
	}

	img, err := chart.Build(ChartEntries(snaps), s.opts.Chart)
	if err != nil {
		s.logger.Error().Err(err).Msg("chart build failed")
		return s.reply(ctx, cmd, "Could not build chart: "+html.EscapeString(err.Error()))
	}

	caption := fmt.Sprintf("📈 <b>Portfolio (USD)</b>, last %d days", s.opts.HistoryDays)
	return s.messenger.SendPhoto(ctx, cmd.ChatID, chartFilename, img, caption)
}

func (s *Service) helpText() string {
	minutes := int(s.scheduler.Interval() / time.Minute)
	return fmt.Sprintf("📋 <b>Available commands</b>\n\n"+
		"/status - fetch the current portfolio snapshot\n"+
		"/frequency &lt;minutes&gt; - set how often the bot sends automatic snapshots (current: every %d min)\n"+
		"/history - view portfolio values for the last %d days\n"+
		"/chart - plot portfolio USD value for the last %d days\n"+
		"/help - show this help message",
		minutes, s.opts.HistoryDays, s.opts.HistoryDays)
}

func (s *Service) reply(ctx context.Context, cmd Command, text string) error {
	return s.messenger.SendMessage(ctx, cmd.ChatID, text)
}

func (s *Service) localNow() time.Time {
	return s.now().In(s.opts.Window.Location)
}

// FormatHistory renders snapshots, newest first, as an HTML list.
func FormatHistory(snaps []storage.Snapshot, days int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 <b>Portfolio history (last %d days)</b>\n", days)
	for _, snap := range snaps {
		fmt.Fprintf(&b, "\n<b>%s</b>  USD: <code>%s</code>  RUB: <code>%s</code>",
			snap.Key(),
			portfolio.FormatAmount(snap.USD, fetcher.USD),
			portfolio.FormatAmount(snap.RUB, fetcher.RUB))
	}
	return b.String()
}

// ChartEntries converts stored snapshots into chart points.
func ChartEntries(snaps []storage.Snapshot) []chart.Entry {
	entries := make([]chart.Entry, 0, len(snaps))
	for _, snap := range snaps {
		entries = append(entries, chart.Entry{Date: snap.Date, USD: snap.USD, RUB: snap.RUB})
	}
	return entries
}
