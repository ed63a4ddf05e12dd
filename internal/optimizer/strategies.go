package optimizer

import (
	"fmt"
	"math"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// builder produces a validated artifact for one strategy kind.
type builder func(spectrum string, gap float64, octx Context) (types.Artifact, error)

var builders = map[types.StrategyKind]builder{
	types.StrategyGradualEnhancement:  buildGradual,
	types.StrategyPromptRefinement:    buildPromptRefinement,
	types.StrategyExampleAugmentation: buildExampleAugmentation,
	types.StrategyTemperatureTuning:   buildTemperatureTuning,
	types.StrategyContextExpansion:    buildContextExpansion,
}

func (o *Optimizer) build(kind types.StrategyKind, spectrum string, current float64, octx Context) (types.Artifact, error) {
	b, ok := builders[kind]
	if !ok {
		return types.Artifact{}, fmt.Errorf("no builder for strategy %q", kind)
	}
	return b(spectrum, math.Max(0, o.target-current), octx)
}

func buildGradual(spectrum string, gap float64, octx Context) (types.Artifact, error) {
	step := math.Min(0.1, math.Max(0.01, gap/2))
	instructions := []string{fmt.Sprintf("Verify every %s answer against the provided source data before responding.", spectrum)}
	if octx.has(types.AlertQualityDegradation) {
		instructions = append(instructions, "Re-read the request and restate the key fields before answering.")
	}
	if octx.has(types.AlertHighVariance) {
		instructions = append(instructions, "Follow the response template exactly; do not vary structure between answers.")
	}
	return types.NewGradualEnhancement(spectrum, types.GradualEnhancementConfig{
		StepSize:     step,
		Instructions: instructions,
	})
}

func buildPromptRefinement(spectrum string, _ float64, octx Context) (types.Artifact, error) {
	constraints := []string{"Answer only from the supplied context.", "Say so explicitly when information is missing."}
	if octx.critical() {
		constraints = append(constraints, "Decline rather than guess when confidence is low.")
	}
	return types.NewPromptRefinement(spectrum, types.PromptRefinementConfig{
		SystemPrompt: fmt.Sprintf("You are the %s assistant. Accuracy takes priority over completeness.", spectrum),
		Constraints:  constraints,
	})
}

func buildExampleAugmentation(spectrum string, gap float64, _ Context) (types.Artifact, error) {
	n := 2
	if gap > 0.05 {
		n = 4
	}
	examples := make([]string, n)
	for i := range examples {
		examples[i] = fmt.Sprintf("%s/reference-%d", spectrum, i+1)
	}
	return types.NewExampleAugmentation(spectrum, types.ExampleAugmentationConfig{
		Examples:    examples,
		MaxExamples: n,
		MinExamples: 1,
	})
}

func buildTemperatureTuning(spectrum string, _ float64, octx Context) (types.Artifact, error) {
	cfg := types.TemperatureTuningConfig{Temperature: 0.5, TopP: 0.95}
	if octx.has(types.AlertHighVariance) {
		cfg = types.TemperatureTuningConfig{Temperature: 0.2, TopP: 0.9}
	}
	return types.NewTemperatureTuning(spectrum, cfg)
}

func buildContextExpansion(spectrum string, _ float64, octx Context) (types.Artifact, error) {
	tokens := 4096
	if octx.critical() {
		tokens = 8192
	}
	return types.NewContextExpansion(spectrum, types.ContextExpansionConfig{
		MaxContextTokens: tokens,
		IncludeHistory:   true,
	})
}
