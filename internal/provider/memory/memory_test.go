package memory

import (
	"testing"

	"github.com/dwsmith1983/qualityloop/internal/provider"
	"github.com/dwsmith1983/qualityloop/internal/provider/providertest"
)

func TestMemoryPatternStore(t *testing.T) {
	providertest.RunPatternStore(t, func(t *testing.T) provider.PatternStore { return New() })
}

func TestMemoryHistoryStore(t *testing.T) {
	providertest.RunHistoryStore(t, func(t *testing.T) provider.HistoryStore { return New() })
}
