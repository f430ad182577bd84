package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var _ SnapshotStore = (*FileStore)(nil)

var errCorruptDocument = errors.New("history file is not valid JSON")

// fileEntry is the on-disk value for one day: {"USD": 1234.56, "RUB": 98765.43}.
type fileEntry struct {
	USD json.Number `json:"USD"`
	RUB json.Number `json:"RUB"`
}

// FileStore keeps snapshots in a single JSON document keyed by DD-MM-YYYY.
type FileStore struct {
	path   string
	loc    *time.Location
	logger zerolog.Logger

	mu sync.Mutex
}

// NewFileStore returns a store backed by the JSON file at path. The file is
// created on first save.
func NewFileStore(path string, loc *time.Location, logger zerolog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, ErrNotConfigured
	}
	if loc == nil {
		loc = time.UTC
	}
	return &FileStore{
		path:   path,
		loc:    loc,
		logger: logger.With().Str("component", "file_store").Logger(),
	}, nil
}

// Close is a no-op; every operation opens and closes the file itself.
func (s *FileStore) Close() error { return nil }

// SaveSnapshot replaces the entry for the snapshot's day and rewrites the
// document atomically.
func (s *FileStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readRaw()
	if errors.Is(err, errCorruptDocument) {
		doc, err = s.quarantine(err)
	}
	if err != nil {
		return err
	}

	value, err := json.Marshal(fileEntry{
		USD: json.Number(snap.USD.StringFixed(2)),
		RUB: json.Number(snap.RUB.StringFixed(2)),
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	doc[snap.Date.In(s.loc).Format(DateLayout)] = value

	return s.writeRaw(doc)
}

// ListRecentSnapshots returns at most limit snapshots, newest first. Entries
// with unparseable keys or values are skipped.
func (s *FileStore) ListRecentSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	doc, err := s.readRaw()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	snaps := make([]Snapshot, 0, len(doc))
	for key, raw := range doc {
		snap, err := s.parseEntry(key, raw)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("skipping malformed history entry")
			continue
		}
		snaps = append(snaps, snap)
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Date.After(snaps[j].Date)
	})
	if limit < 0 {
		limit = 0
	}
	if len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}

func (s *FileStore) parseEntry(key string, raw json.RawMessage) (Snapshot, error) {
	date, err := time.ParseInLocation(DateLayout, key, s.loc)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse date key: %w", err)
	}

	var entry fileEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Snapshot{}, fmt.Errorf("decode entry: %w", err)
	}
	usd, err := decimal.NewFromString(entry.USD.String())
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse USD: %w", err)
	}
	rub, err := decimal.NewFromString(entry.RUB.String())
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse RUB: %w", err)
	}
	return Snapshot{Date: date, USD: usd, RUB: rub}, nil
}

// readRaw loads the document; a missing or empty file is an empty history.
func (s *FileStore) readRaw() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}

	doc := make(map[string]json.RawMessage)
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptDocument, err)
	}
	return doc, nil
}

// quarantine moves an undecodable document aside so saving can start over
// with an empty one. The moved file is kept for manual recovery.
func (s *FileStore) quarantine(cause error) (map[string]json.RawMessage, error) {
	aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, aside); err != nil {
		return nil, fmt.Errorf("move corrupt history file: %w", err)
	}
	s.logger.Warn().Err(cause).Str("moved_to", aside).Msg("history file was corrupt; starting a new one")
	return make(map[string]json.RawMessage), nil
}

func (s *FileStore) writeRaw(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace history file: %w", err)
	}
	return nil
}
