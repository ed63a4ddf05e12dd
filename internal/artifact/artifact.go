// Package artifact is the storage boundary for deployable artifacts. The
// governor only needs read, write, snapshot and restore.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// ErrNotFound is returned by Read when nothing is stored at a location.
var ErrNotFound = errors.New("artifact not found")

// Store reads and writes artifact content addressed by location.
type Store interface {
	Read(ctx context.Context, location string) (string, error)
	Write(ctx context.Context, location, content string) error
	// Snapshot copies the current content so Restore can bring it back. A
	// location with no content yields a handle with Existed=false.
	Snapshot(ctx context.Context, location string) (types.SnapshotHandle, error)
	// Restore puts the snapshot back, removing the location if it did not
	// exist when the snapshot was taken.
	Restore(ctx context.Context, snap types.SnapshotHandle) error
}

// cleanLocation normalizes a location into a slash-separated relative path.
func cleanLocation(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("empty artifact location")
	}
	clean := path.Clean("/" + strings.ReplaceAll(location, "\\", "/"))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." || strings.HasPrefix(clean, snapshotDir) {
		return "", fmt.Errorf("invalid artifact location %q", location)
	}
	return clean, nil
}

const snapshotDir = ".snapshots"

func newHandle(location string) types.SnapshotHandle {
	return types.SnapshotHandle{ID: ulid.Make().String(), Location: location, TakenAt: time.Now().UTC()}
}

// MemoryStore keeps artifacts in memory.
type MemoryStore struct {
	mu        sync.RWMutex
	content   map[string]string
	snapshots map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{content: make(map[string]string), snapshots: make(map[string]string)}
}

// Read returns the content at location.
func (m *MemoryStore) Read(_ context.Context, location string) (string, error) {
	loc, err := cleanLocation(location)
	if err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.content[loc]
	if !ok {
		return "", fmt.Errorf("%s: %w", loc, ErrNotFound)
	}
	return c, nil
}

// Write replaces the content at location.
func (m *MemoryStore) Write(_ context.Context, location, content string) error {
	loc, err := cleanLocation(location)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[loc] = content
	return nil
}

// Snapshot copies the content at location.
func (m *MemoryStore) Snapshot(_ context.Context, location string) (types.SnapshotHandle, error) {
	loc, err := cleanLocation(location)
	if err != nil {
		return types.SnapshotHandle{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h := newHandle(loc)
	if c, ok := m.content[loc]; ok {
		h.Existed = true
		h.Ref = h.ID
		m.snapshots[h.ID] = c
	}
	return h, nil
}

// Restore puts a snapshot back.
func (m *MemoryStore) Restore(_ context.Context, snap types.SnapshotHandle) error {
	loc, err := cleanLocation(snap.Location)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !snap.Existed {
		delete(m.content, loc)
		return nil
	}
	c, ok := m.snapshots[snap.Ref]
	if !ok {
		return fmt.Errorf("snapshot %s: %w", snap.ID, ErrNotFound)
	}
	m.content[loc] = c
	return nil
}
