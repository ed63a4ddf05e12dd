// Package file implements an append-only JSON-lines history store.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dwsmith1983/qualityloop/internal/provider"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

var _ provider.HistoryStore = (*HistoryStore)(nil)

// HistoryStore appends one JSON object per line to a local file.
type HistoryStore struct {
	path string
	mu   sync.Mutex
}

// NewHistoryStore creates the parent directory if needed.
func NewHistoryStore(path string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	return &HistoryStore{path: path}, nil
}

// AppendEntry writes entry and fsyncs before returning.
func (s *HistoryStore) AppendEntry(_ context.Context, entry types.ChangeHistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing history: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing history: %w", err)
	}
	return f.Close()
}

// ListEntries reads every line in order. A missing file is an empty log.
func (s *HistoryStore) ListEntries(_ context.Context) ([]types.ChangeHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []types.ChangeHistoryEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var e types.ChangeHistoryEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", provider.ErrCorrupt, s.path, line, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return entries, nil
}

// ClearEntries truncates the file.
func (s *HistoryStore) ClearEntries(ctx context.Context) (int, error) {
	entries, err := s.ListEntries(ctx)
	if err != nil && !errors.Is(err, provider.ErrCorrupt) {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Truncate(s.path, 0); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("truncating history: %w", err)
	}
	return len(entries), nil
}
