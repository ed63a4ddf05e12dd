package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// FileStore keeps artifacts as files under a root directory. Writes go to a
// temp file and are renamed into place so readers never see partial content.
type FileStore struct {
	root string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the root and snapshot directories.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact dir required")
	}
	if err := os.MkdirAll(filepath.Join(root, snapshotDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(location string) (string, error) {
	loc, err := cleanLocation(location)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(loc)), nil
}

// Read returns the file content at location.
func (s *FileStore) Read(_ context.Context, location string) (string, error) {
	p, err := s.path(location)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", location, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", location, err)
	}
	return string(data), nil
}

// Write atomically replaces the file at location.
func (s *FileStore) Write(_ context.Context, location, content string) error {
	p, err := s.path(location)
	if err != nil {
		return err
	}
	return writeAtomic(p, []byte(content))
}

// Snapshot copies the file into the snapshot directory.
func (s *FileStore) Snapshot(_ context.Context, location string) (types.SnapshotHandle, error) {
	p, err := s.path(location)
	if err != nil {
		return types.SnapshotHandle{}, err
	}
	loc, _ := cleanLocation(location)
	h := newHandle(loc)

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return h, nil
	}
	if err != nil {
		return types.SnapshotHandle{}, fmt.Errorf("reading %s for snapshot: %w", location, err)
	}
	ref := filepath.Join(s.root, snapshotDir, h.ID)
	if err := writeAtomic(ref, data); err != nil {
		return types.SnapshotHandle{}, fmt.Errorf("writing snapshot: %w", err)
	}
	h.Existed = true
	h.Ref = ref
	return h, nil
}

// Restore copies the snapshot back over location.
func (s *FileStore) Restore(_ context.Context, snap types.SnapshotHandle) error {
	p, err := s.path(snap.Location)
	if err != nil {
		return err
	}
	if !snap.Existed {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", snap.Location, err)
		}
		return nil
	}
	data, err := os.ReadFile(snap.Ref)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("snapshot %s: %w", snap.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("reading snapshot %s: %w", snap.ID, err)
	}
	return writeAtomic(p, data)
}

func writeAtomic(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
