package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "history.json"), time.UTC, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func newHistoryAt(store SnapshotStore, at time.Time) *History {
	h := NewHistory(store, time.UTC, zerolog.Nop())
	h.now = func() time.Time { return at }
	return h
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	store := newFileStore(t)
	snaps, err := store.ListRecentSnapshots(context.Background(), 30)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestFileStoreWritesDayKeyedDocument(t *testing.T) {
	store := newFileStore(t)
	h := newHistoryAt(store, day(2024, time.March, 5))

	h.SaveSnapshot(context.Background(), decimal.RequireFromString("1234.567"), decimal.RequireFromString("98765.4321"))

	data, err := os.ReadFile(store.path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"05-03-2024": {"USD": 1234.57, "RUB": 98765.43}}`, string(data))
}

func TestSaveSnapshotSameDayOverwrites(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	newHistoryAt(store, day(2024, time.March, 5).Add(-3*time.Hour)).SaveSnapshot(ctx, decimal.NewFromInt(100), decimal.NewFromInt(9000))
	newHistoryAt(store, day(2024, time.March, 5).Add(6*time.Hour)).SaveSnapshot(ctx, decimal.NewFromInt(200), decimal.NewFromInt(18000))

	snaps := NewHistory(store, time.UTC, zerolog.Nop()).Recent(ctx, 30)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].USD.Equal(decimal.NewFromInt(200)))
	assert.True(t, snaps[0].RUB.Equal(decimal.NewFromInt(18000)))
}

func TestRecentIsNewestFirstAndLimited(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()
	for d := 1; d <= 10; d++ {
		newHistoryAt(store, day(2024, time.January, d)).SaveSnapshot(ctx, decimal.NewFromInt(int64(d)), decimal.NewFromInt(int64(d*90)))
	}
	// crosses a month boundary so string order and date order differ
	newHistoryAt(store, day(2024, time.February, 2)).SaveSnapshot(ctx, decimal.NewFromInt(32), decimal.NewFromInt(2880))

	snaps := NewHistory(store, time.UTC, zerolog.Nop()).Recent(ctx, 3)
	require.Len(t, snaps, 3)
	assert.Equal(t, "02-02-2024", snaps[0].Key())
	assert.Equal(t, "10-01-2024", snaps[1].Key())
	assert.Equal(t, "09-01-2024", snaps[2].Key())
}

func TestFileStoreSkipsMalformedEntries(t *testing.T) {
	store := newFileStore(t)
	doc := `{
		"05-03-2024": {"USD": 10, "RUB": 900},
		"2024-03-06": {"USD": 11, "RUB": 990},
		"07-03-2024": {"USD": "lots", "RUB": 1},
		"08-03-2024": [1, 2]
	}`
	require.NoError(t, os.WriteFile(store.path, []byte(doc), 0o644))

	snaps, err := store.ListRecentSnapshots(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "05-03-2024", snaps[0].Key())
}

func TestFileStoreCorruptFileDegradesToEmpty(t *testing.T) {
	store := newFileStore(t)
	require.NoError(t, os.WriteFile(store.path, []byte("{not json"), 0o644))

	_, err := store.ListRecentSnapshots(context.Background(), 30)
	require.Error(t, err)

	snaps := NewHistory(store, time.UTC, zerolog.Nop()).Recent(context.Background(), 30)
	assert.Empty(t, snaps)
}

func TestFileStoreSaveRecoversFromCorruptFile(t *testing.T) {
	store := newFileStore(t)
	require.NoError(t, os.WriteFile(store.path, []byte("{not json"), 0o644))

	h := newHistoryAt(store, day(2024, time.May, 2))
	h.SaveSnapshot(context.Background(), decimal.NewFromInt(1500), decimal.NewFromInt(135000))

	snaps := h.Recent(context.Background(), 30)
	require.Len(t, snaps, 1)
	assert.Equal(t, "02-05-2024", snaps[0].Key())
	assert.True(t, snaps[0].USD.Equal(decimal.NewFromInt(1500)))

	moved, err := filepath.Glob(store.path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	data, err := os.ReadFile(moved[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))

	// A second save goes through the normal path.
	h.now = func() time.Time { return day(2024, time.May, 3) }
	h.SaveSnapshot(context.Background(), decimal.NewFromInt(1600), decimal.NewFromInt(144000))
	assert.Len(t, h.Recent(context.Background(), 30), 2)
}

type failingStore struct{}

func (failingStore) SaveSnapshot(context.Context, Snapshot) error {
	return errors.New("disk full")
}

func (failingStore) ListRecentSnapshots(context.Context, int) ([]Snapshot, error) {
	return nil, errors.New("disk gone")
}

func (failingStore) Close() error { return nil }

func TestHistoryDegradesOnStoreFailure(t *testing.T) {
	h := NewHistory(failingStore{}, time.UTC, zerolog.Nop())
	assert.NotPanics(t, func() {
		h.SaveSnapshot(context.Background(), decimal.NewFromInt(1), decimal.NewFromInt(90))
	})
	snaps := h.Recent(context.Background(), 30)
	assert.NotNil(t, snaps)
	assert.Empty(t, snaps)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"), time.UTC, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	newHistoryAt(store, day(2024, time.March, 4)).SaveSnapshot(ctx, decimal.RequireFromString("100.456"), decimal.NewFromInt(9000))
	newHistoryAt(store, day(2024, time.March, 5)).SaveSnapshot(ctx, decimal.NewFromInt(150), decimal.NewFromInt(13500))
	newHistoryAt(store, day(2024, time.March, 5)).SaveSnapshot(ctx, decimal.NewFromInt(160), decimal.NewFromInt(14400))

	snaps, err := store.ListRecentSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "05-03-2024", snaps[0].Key())
	assert.True(t, snaps[0].USD.Equal(decimal.NewFromInt(160)))
	assert.Equal(t, "04-03-2024", snaps[1].Key())
	assert.True(t, snaps[1].USD.Equal(decimal.RequireFromString("100.46")))
}

func TestSQLiteStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(path, time.UTC, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot(context.Background(), Snapshot{Date: day(2024, time.May, 1), USD: decimal.NewFromInt(1), RUB: decimal.NewFromInt(2)}))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path, time.UTC, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	snaps, err := store.ListRecentSnapshots(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

// Recent(n) yields min(n, distinct days) snapshots in strictly descending
// day order, whatever order the days were saved in.
func TestRecentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("newest first and bounded", prop.ForAll(
		func(offsets []int, n int) bool {
			dir, err := os.MkdirTemp("", "history-prop-*")
			if err != nil {
				return false
			}
			defer os.RemoveAll(dir)

			store, err := NewFileStore(filepath.Join(dir, "h.json"), time.UTC, zerolog.Nop())
			if err != nil {
				return false
			}
			base := day(2023, time.December, 1)
			distinct := make(map[int]struct{})
			for _, off := range offsets {
				distinct[off] = struct{}{}
				at := base.AddDate(0, 0, off)
				newHistoryAt(store, at).SaveSnapshot(context.Background(), decimal.NewFromInt(int64(off)), decimal.Zero)
			}

			snaps := NewHistory(store, time.UTC, zerolog.Nop()).Recent(context.Background(), n)
			want := len(distinct)
			if n < want {
				want = n
			}
			if len(snaps) != want {
				return false
			}
			for i := 1; i < len(snaps); i++ {
				if !snaps[i-1].Date.After(snaps[i].Date) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 90)),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}
