// Package badger keeps the run output slot and the usage ledger in an
// embedded Badger database.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment"
)

var (
	_ enrichment.OutputStore = (*Store)(nil)
	_ enrichment.UsageSink   = (*Store)(nil)
)

// ErrNotFound is returned by GetValue for unknown keys.
var ErrNotFound = errors.New("value not found")

// Record is one keyed value.
type Record struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// ChargeRecord is one persisted usage event.
type ChargeRecord struct {
	ID        string
	EventName string
	Count     int
	ChargedAt time.Time
}

type Store struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	now    func() time.Time
}

// Open opens (or creates) the database at path.
func Open(path string, logger arbor.ILogger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("badger path is required")
	}
	if logger == nil {
		logger = arbor.NewLogger()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	logger.Debug().Str("path", path).Msg("badger store opened")

	return &Store{store: store, logger: logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// SetValue replaces the value under key.
func (s *Store) SetValue(_ context.Context, key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("store key is required")
	}
	rec := Record{Key: key, Value: append([]byte(nil), value...), UpdatedAt: s.now().UTC()}
	if err := s.store.Upsert(key, rec); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetValue(_ context.Context, key string) ([]byte, error) {
	var rec Record
	if err := s.store.Get(strings.TrimSpace(key), &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return rec.Value, nil
}

// Charge records one usage event under a fresh id.
func (s *Store) Charge(_ context.Context, ev enrichment.UsageEvent) error {
	rec := ChargeRecord{
		ID:        uuid.NewString(),
		EventName: ev.EventName,
		Count:     ev.Count,
		ChargedAt: s.now().UTC(),
	}
	if err := s.store.Insert(rec.ID, rec); err != nil {
		return fmt.Errorf("failed to record usage event: %w", err)
	}
	s.logger.Debug().Str("event", rec.EventName).Int("count", rec.Count).Msg("usage event recorded")
	return nil
}

// Charges lists recorded usage events, oldest first.
func (s *Store) Charges(_ context.Context) ([]ChargeRecord, error) {
	var out []ChargeRecord
	if err := s.store.Find(&out, nil); err != nil {
		return nil, fmt.Errorf("failed to list usage events: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChargedAt.Before(out[j].ChargedAt) })
	return out, nil
}
