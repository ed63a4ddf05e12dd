package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/qualityloop/internal/provider"
	"github.com/dwsmith1983/qualityloop/internal/provider/providertest"
)

func TestFileHistoryStore(t *testing.T) {
	providertest.RunHistoryStore(t, func(t *testing.T) provider.HistoryStore {
		s, err := NewHistoryStore(filepath.Join(t.TempDir(), "nested", "history.jsonl"))
		require.NoError(t, err)
		return s
	})
}

func TestListEntries_MissingFile(t *testing.T) {
	s, err := NewHistoryStore(filepath.Join(t.TempDir(), "history.jsonl"))
	require.NoError(t, err)

	got, err := s.ListEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListEntries_CorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"type\":\"optimization_cycle\",\"cycle_id\":\"c1\"}\n{broken\n"), 0o644))
	s, err := NewHistoryStore(path)
	require.NoError(t, err)

	_, err = s.ListEntries(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrCorrupt))
	assert.Contains(t, err.Error(), "line 2")
}
