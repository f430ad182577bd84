package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-bot/internal/chart"
	"portfolio-bot/internal/fetcher"
	"portfolio-bot/internal/portfolio"
	"portfolio-bot/internal/scheduler"
	"portfolio-bot/internal/storage"
	"portfolio-bot/internal/telegram"
)

const ownerChat = "4242"

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) Summary(context.Context) portfolio.Summary {
	f.calls++
	return portfolio.Summary{
		Readings: []portfolio.Reading{{
			Source:   fetcher.Source{ID: "bybit", Label: "Bybit", Category: fetcher.CategoryCrypto, Kind: fetcher.SingleCurrency},
			Amount:   decimal.NewFromInt(1000),
			Currency: fetcher.USD,
		}},
		Errors:       map[string]string{},
		CryptoUSD:    decimal.NewFromInt(1000),
		Rate:         decimal.NewFromInt(90),
		RateFallback: true,
		TotalUSD:     decimal.NewFromInt(1000),
		TotalRUB:     decimal.NewFromInt(90000),
	}
}

type savedSnapshot struct {
	usd, rub decimal.Decimal
}

type fakeHistory struct {
	saved []savedSnapshot
	snaps []storage.Snapshot
}

func (f *fakeHistory) SaveSnapshot(_ context.Context, usd, rub decimal.Decimal) {
	f.saved = append(f.saved, savedSnapshot{usd: usd, rub: rub})
}

func (f *fakeHistory) Recent(_ context.Context, n int) []storage.Snapshot {
	if len(f.snaps) > n {
		return f.snaps[:n]
	}
	return f.snaps
}

type fakeScheduler struct {
	mu       sync.Mutex
	interval time.Duration
	rearms   int
}

func (f *fakeScheduler) Run(ctx context.Context, _ scheduler.TickFunc) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeScheduler) Reschedule(d time.Duration) error {
	if d <= 0 {
		return scheduler.ErrInvalidInterval
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval = d
	f.rearms++
	return nil
}

func (f *fakeScheduler) Interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

type sentMessage struct {
	chatID string
	text   string
	photo  []byte
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return f.err
}

func (f *fakeMessenger) SendPhoto(_ context.Context, chatID, _ string, image []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: caption, photo: image})
	return f.err
}

type fixture struct {
	svc       *Service
	agg       *fakeSummarizer
	history   *fakeHistory
	sched     *fakeScheduler
	messenger *fakeMessenger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	f := fixture{
		agg:       &fakeSummarizer{},
		history:   &fakeHistory{},
		sched:     &fakeScheduler{interval: 120 * time.Minute},
		messenger: &fakeMessenger{},
	}
	f.svc = New(Options{
		ChatID:      ownerChat,
		Window:      scheduler.Window{StartHour: 8, EndHour: 20, Location: paris},
		HistoryDays: 30,
		Chart:       chart.Options{Width: 400, Height: 200},
	}, f.agg, f.history, f.sched, f.messenger, nil, zerolog.Nop())
	f.svc.now = func() time.Time { return time.Date(2024, time.March, 5, 12, 0, 0, 0, paris) }
	return f
}

func parisHour(t *testing.T, hour int) time.Time {
	t.Helper()
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return time.Date(2024, time.March, 5, hour, 30, 0, 0, paris)
}

func TestTickWindowGating(t *testing.T) {
	cases := []struct {
		hour   int
		inside bool
	}{
		{7, false},
		{8, true},
		{20, true},
		{21, false},
	}
	for _, tc := range cases {
		f := newFixture(t)
		require.NoError(t, f.svc.Tick(context.Background(), parisHour(t, tc.hour)))

		if tc.inside {
			assert.Len(t, f.messenger.sent, 1, "hour %d should send a report", tc.hour)
			assert.Len(t, f.history.saved, 1, "hour %d should save a snapshot", tc.hour)
			assert.Equal(t, ownerChat, f.messenger.sent[0].chatID)
		} else {
			assert.Empty(t, f.messenger.sent, "hour %d should stay quiet", tc.hour)
			assert.Empty(t, f.history.saved, "hour %d should not save", tc.hour)
			assert.Zero(t, f.agg.calls, "hour %d should not fetch", tc.hour)
		}
	}
}

func TestTickSavesSnapshotWhenDeliveryFails(t *testing.T) {
	f := newFixture(t)
	f.messenger.err = errors.New("telegram down")

	require.NoError(t, f.svc.Tick(context.Background(), parisHour(t, 12)))
	require.Len(t, f.history.saved, 1)
	assert.True(t, f.history.saved[0].usd.Equal(decimal.NewFromInt(1000)))
	assert.True(t, f.history.saved[0].rub.Equal(decimal.NewFromInt(90000)))
}

func TestTickReportCarriesLocalDate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Tick(context.Background(), parisHour(t, 9)))
	assert.Contains(t, f.messenger.sent[0].text, "Portfolio summary 05-03-2024")
}

func TestUnauthorizedCallerHasNoSideEffects(t *testing.T) {
	for _, name := range []string{CommandStatus, CommandFrequency, CommandHistory, CommandChart, CommandHelp} {
		f := newFixture(t)
		err := f.svc.Handle(context.Background(), Command{Name: name, Args: []string{"5"}, ChatID: "999"})

		assert.True(t, errors.Is(err, ErrUnauthorized), name)
		require.Len(t, f.messenger.sent, 1, name)
		assert.Equal(t, "Unauthorized access.", f.messenger.sent[0].text)
		assert.Equal(t, "999", f.messenger.sent[0].chatID)
		assert.Zero(t, f.agg.calls, name)
		assert.Zero(t, f.sched.rearms, name)
		assert.Equal(t, 120*time.Minute, f.sched.Interval(), name)
		assert.Empty(t, f.history.saved, name)
	}
}

func TestSetFrequencyRejectsNonPositive(t *testing.T) {
	for _, arg := range []string{"0", "-5", "abc", "1.5"} {
		f := newFixture(t)
		err := f.svc.Handle(context.Background(), Command{Name: CommandFrequency, Args: []string{arg}, ChatID: ownerChat})

		assert.True(t, errors.Is(err, ErrInvalidFrequency), arg)
		assert.Equal(t, 120*time.Minute, f.sched.Interval(), arg)
		assert.Zero(t, f.sched.rearms, arg)
		require.Len(t, f.messenger.sent, 1)
		assert.Contains(t, f.messenger.sent[0].text, "Invalid value")
	}
}

func TestSetFrequencyUsage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Handle(context.Background(), Command{Name: CommandFrequency, ChatID: ownerChat}))
	require.NoError(t, f.svc.Handle(context.Background(), Command{Name: CommandFrequency, Args: []string{"5", "6"}, ChatID: ownerChat}))

	require.Len(t, f.messenger.sent, 2)
	for _, msg := range f.messenger.sent {
		assert.Contains(t, msg.text, "Usage: /frequency &lt;minutes&gt;")
		assert.NotContains(t, msg.text, "<minutes>", "raw tags are rejected in HTML parse mode")
	}
	assert.Zero(t, f.sched.rearms)
}

func TestSetFrequencyRearms(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Handle(context.Background(), Command{Name: CommandFrequency, Args: []string{"45"}, ChatID: ownerChat}))

	assert.Equal(t, 45*time.Minute, f.sched.Interval())
	assert.Equal(t, 1, f.sched.rearms)
	assert.Contains(t, f.messenger.sent[0].text, "<b>45 minute(s)</b>")
}

func TestStatusDoesNotSaveSnapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Handle(context.Background(), Command{Name: CommandStatus, ChatID: ownerChat}))

	require.Len(t, f.messenger.sent, 2)
	assert.Equal(t, "Fetching data...", f.messenger.sent[0].text)
	assert.Contains(t, f.messenger.sent[1].text, "Portfolio summary 05-03-2024")
	assert.Equal(t, 1, f.agg.calls)
	assert.Empty(t, f.history.saved)
}

func TestHistoryCommand(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Handle(context.Background(), Command{Name: CommandHistory, ChatID: ownerChat}))
	assert.Contains(t, f.messenger.sent[0].text, "No portfolio history recorded yet")

	f.history.snaps = []storage.Snapshot{
		{Date: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), USD: decimal.NewFromInt(12345), RUB: decimal.NewFromInt(1234567)},
		{Date: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), USD: decimal.NewFromInt(12000), RUB: decimal.NewFromInt(1200000)},
	}
	require.NoError(t, f.svc.Handle(context.Background(), Command{Name: CommandHistory, ChatID: ownerChat}))

	want := "📅 <b>Portfolio history (last 30 days)</b>\n" +
		"\n<b>05-03-2024</b>  USD: <code>$12 345</code>  RUB: <code>₽1 234 567</code>" +
		"\n<b>04-03-2024</b>  USD: <code>$12 000</code>  RUB: <code>₽1 200 000</code>"
	assert.Equal(t, want, f.messenger.sent[1].text)
}

func TestChartCommandSendsPhoto(t *testing.T) {
	f := newFixture(t)
	for d := 0; d < 10; d++ {
		f.history.snaps = append(f.history.snaps, storage.Snapshot{
			Date: time.Date(2024, 3, 10-d, 0, 0, 0, 0, time.UTC),
			USD:  decimal.NewFromInt(int64(10000 + d*100)),
			RUB:  decimal.NewFromInt(int64(900000 + d*9000)),
		})
	}

	require.NoError(t, f.svc.Handle(context.Background(), Command{Name: CommandChart, ChatID: ownerChat}))
	require.Len(t, f.messenger.sent, 1)
	assert.NotEmpty(t, f.messenger.sent[0].photo)
}

func TestHelpShowsCurrentInterval(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sched.Reschedule(15*time.Minute))
	require.NoError(t, f.svc.Handle(context.Background(), Command{Name: CommandHelp, ChatID: ownerChat}))
	assert.Contains(t, f.messenger.sent[0].text, "current: every 15 min")
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Handle(context.Background(), Command{Name: "bogus", ChatID: ownerChat}))
	assert.Contains(t, f.messenger.sent[0].text, "/help")
}

func TestParseCommand(t *testing.T) {
	cmd, ok := ParseCommand("/Frequency@portfolio_bot 60", ownerChat)
	require.True(t, ok)
	assert.Equal(t, Command{Name: "frequency", Args: []string{"60"}, ChatID: ownerChat}, cmd)

	_, ok = ParseCommand("hello there", ownerChat)
	assert.False(t, ok)
	_, ok = ParseCommand("   ", ownerChat)
	assert.False(t, ok)
}

func TestHandleMessageRoutesTelegramText(t *testing.T) {
	f := newFixture(t)
	f.svc.handleMessage(context.Background(), telegram.Message{Chat: telegram.Chat{ID: 4242}, Text: "/help"})
	require.Len(t, f.messenger.sent, 1)
	assert.Contains(t, f.messenger.sent[0].text, "Available commands")
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
