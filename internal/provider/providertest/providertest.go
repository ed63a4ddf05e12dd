// Package providertest provides shared conformance tests for provider
// implementations. Call RunPatternStore or RunHistoryStore from a test
// function to verify a backend satisfies the behavioral contract.
package providertest

import (
	"testing"

	"github.com/dwsmith1983/qualityloop/internal/provider"
)

// RunPatternStore runs the pattern store conformance suite as subtests.
// Each subtest receives a fresh store from newStore.
func RunPatternStore(t *testing.T, newStore func(t *testing.T) provider.PatternStore) {
	t.Helper()

	t.Run("EmptyLoad", func(t *testing.T) { TestPatternEmptyLoad(t, newStore(t)) })
	t.Run("SaveLoad", func(t *testing.T) { TestPatternSaveLoad(t, newStore(t)) })
	t.Run("Upsert", func(t *testing.T) { TestPatternUpsert(t, newStore(t)) })
}

// RunHistoryStore runs the history store conformance suite as subtests.
func RunHistoryStore(t *testing.T, newStore func(t *testing.T) provider.HistoryStore) {
	t.Helper()

	t.Run("AppendList", func(t *testing.T) { TestHistoryAppendList(t, newStore(t)) })
	t.Run("NullableBefore", func(t *testing.T) { TestHistoryNullableBefore(t, newStore(t)) })
	t.Run("Clear", func(t *testing.T) { TestHistoryClear(t, newStore(t)) })
}
