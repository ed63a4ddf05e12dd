package metricsource

import (
	"context"
	"fmt"
	"time"
)

// Arm tags carried in the model field of A/B samples.
const (
	ArmControl = "control"
	ArmVariant = "variant"
)

// ArmSampler splits a Source's samples into A/B arms by model tag. Samples
// tagged ArmVariant belong to the variant; everything else is control.
type ArmSampler struct {
	source   Source
	spectrum func(scope string) string
}

// NewArmSampler wraps source. spectrumFor maps a test's target scope back to
// the spectrum its samples are recorded under; nil uses the scope itself.
func NewArmSampler(source Source, spectrumFor func(scope string) string) *ArmSampler {
	if spectrumFor == nil {
		spectrumFor = func(scope string) string { return scope }
	}
	return &ArmSampler{source: source, spectrum: spectrumFor}
}

// Sample returns the control and variant scores observed since the given time.
func (a *ArmSampler) Sample(ctx context.Context, scope string, since time.Time) (control, variant []float64, err error) {
	spectrum := a.spectrum(scope)
	samples, err := a.source.Collect(ctx, spectrum, since)
	if err != nil {
		return nil, nil, fmt.Errorf("sampling arms for %s: %w", scope, err)
	}
	for _, s := range samples {
		if s.Model == ArmVariant {
			variant = append(variant, s.Score)
		} else {
			control = append(control, s.Score)
		}
	}
	return control, variant, nil
}
