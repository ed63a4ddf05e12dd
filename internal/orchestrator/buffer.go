package orchestrator

import (
	"sort"
	"time"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// buffer keeps the most recent samples for one spectrum in timestamp order.
type buffer struct {
	size    int
	samples []types.QualitySample
}

func newBuffer(size int) *buffer {
	return &buffer{size: size}
}

func (b *buffer) add(s types.QualitySample) {
	n := len(b.samples)
	b.samples = append(b.samples, s)
	if n > 0 && s.Timestamp.Before(b.samples[n-1].Timestamp) {
		sort.SliceStable(b.samples, func(i, j int) bool {
			return b.samples[i].Timestamp.Before(b.samples[j].Timestamp)
		})
	}
	if over := len(b.samples) - b.size; over > 0 {
		b.samples = append([]types.QualitySample(nil), b.samples[over:]...)
	}
}

func (b *buffer) snapshot() []types.QualitySample {
	out := make([]types.QualitySample, len(b.samples))
	copy(out, b.samples)
	return out
}

func (b *buffer) since(t time.Time) []types.QualitySample {
	i := sort.Search(len(b.samples), func(i int) bool { return b.samples[i].Timestamp.After(t) })
	out := make([]types.QualitySample, len(b.samples)-i)
	copy(out, b.samples[i:])
	return out
}

func (b *buffer) last() (types.QualitySample, bool) {
	if len(b.samples) == 0 {
		return types.QualitySample{}, false
	}
	return b.samples[len(b.samples)-1], true
}
