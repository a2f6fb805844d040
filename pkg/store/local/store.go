// Package local is a directory-backed output store for local runs.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shpitdev/searchleads-enrichment-monitor/pkg/enrichment"
)

var (
	_ enrichment.OutputStore = (*Store)(nil)
	_ enrichment.UsageSink   = (*Store)(nil)
)

const usageFile = "usage.jsonl"

// Store writes each key to <dir>/<key>.json and appends usage events to
// <dir>/usage.jsonl.
type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// SetValue replaces the value stored under key. The write is atomic: readers
// see either the old file or the new one.
func (s *Store) SetValue(_ context.Context, key string, value []byte) error {
	name, err := fileName(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// GetValue reads back a value written by SetValue.
func (s *Store) GetValue(_ context.Context, key string) ([]byte, error) {
	name, err := fileName(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(s.dir, name))
}

// Charge appends one JSON line per usage event.
func (s *Store) Charge(_ context.Context, ev enrichment.UsageEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, usageFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open usage ledger: %w", err)
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append usage event: %w", err)
	}
	return f.Close()
}

func fileName(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid store key %q", key)
	}
	return key + ".json", nil
}

// ReadInput decodes the process input from a JSON file.
func ReadInput(path string) (enrichment.Request, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return enrichment.Request{}, enrichment.ErrNoInput
	}
	f, err := os.Open(path)
	if err != nil {
		return enrichment.Request{}, fmt.Errorf("open input: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return ReadRequest(f)
}

// ReadRequest decodes one Request from r.
func ReadRequest(r io.Reader) (enrichment.Request, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return enrichment.Request{}, fmt.Errorf("read input: %w", err)
	}
	return enrichment.DecodeRequest(b)
}
