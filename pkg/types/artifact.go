package types

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// GradualEnhancementConfig nudges the existing prompt with a small set of
// additional instructions.
type GradualEnhancementConfig struct {
	StepSize     float64  `json:"step_size" validate:"gt=0,lte=0.1"`
	Instructions []string `json:"instructions" validate:"min=1,dive,required"`
}

// PromptRefinementConfig replaces the system prompt.
type PromptRefinementConfig struct {
	SystemPrompt string   `json:"system_prompt" validate:"required"`
	Constraints  []string `json:"constraints,omitempty" validate:"dive,required"`
}

// ExampleAugmentationConfig adds few-shot examples.
type ExampleAugmentationConfig struct {
	Examples    []string `json:"examples" validate:"min=1,dive,required"`
	MaxExamples int      `json:"max_examples" validate:"gte=1,gtefield=MinExamples"`
	MinExamples int      `json:"min_examples" validate:"gte=0"`
}

// TemperatureTuningConfig adjusts sampling parameters.
type TemperatureTuningConfig struct {
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
	TopP        float64 `json:"top_p" validate:"gt=0,lte=1"`
}

// ContextExpansionConfig widens the retrieval context.
type ContextExpansionConfig struct {
	MaxContextTokens int  `json:"max_context_tokens" validate:"gte=256"`
	IncludeHistory   bool `json:"include_history"`
}

// Artifact is the deployable output of an optimization. Exactly one of the
// strategy configs is populated and it must match Kind.
type Artifact struct {
	Kind                StrategyKind               `json:"kind" validate:"required"`
	Spectrum            string                     `json:"spectrum" validate:"required"`
	GradualEnhancement  *GradualEnhancementConfig  `json:"gradual_enhancement,omitempty"`
	PromptRefinement    *PromptRefinementConfig    `json:"prompt_refinement,omitempty"`
	ExampleAugmentation *ExampleAugmentationConfig `json:"example_augmentation,omitempty"`
	TemperatureTuning   *TemperatureTuningConfig   `json:"temperature_tuning,omitempty"`
	ContextExpansion    *ContextExpansionConfig    `json:"context_expansion,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator used for domain types.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// NewGradualEnhancement builds a validated gradual_enhancement artifact.
func NewGradualEnhancement(spectrum string, cfg GradualEnhancementConfig) (Artifact, error) {
	return newArtifact(Artifact{Kind: StrategyGradualEnhancement, Spectrum: spectrum, GradualEnhancement: &cfg})
}

// NewPromptRefinement builds a validated prompt_refinement artifact.
func NewPromptRefinement(spectrum string, cfg PromptRefinementConfig) (Artifact, error) {
	return newArtifact(Artifact{Kind: StrategyPromptRefinement, Spectrum: spectrum, PromptRefinement: &cfg})
}

// NewExampleAugmentation builds a validated example_augmentation artifact.
func NewExampleAugmentation(spectrum string, cfg ExampleAugmentationConfig) (Artifact, error) {
	return newArtifact(Artifact{Kind: StrategyExampleAugmentation, Spectrum: spectrum, ExampleAugmentation: &cfg})
}

// NewTemperatureTuning builds a validated temperature_tuning artifact.
func NewTemperatureTuning(spectrum string, cfg TemperatureTuningConfig) (Artifact, error) {
	return newArtifact(Artifact{Kind: StrategyTemperatureTuning, Spectrum: spectrum, TemperatureTuning: &cfg})
}

// NewContextExpansion builds a validated context_expansion artifact.
func NewContextExpansion(spectrum string, cfg ContextExpansionConfig) (Artifact, error) {
	return newArtifact(Artifact{Kind: StrategyContextExpansion, Spectrum: spectrum, ContextExpansion: &cfg})
}

func newArtifact(a Artifact) (Artifact, error) {
	if err := a.Validate(); err != nil {
		return Artifact{}, err
	}
	return a, nil
}

// Validate checks that exactly the config matching Kind is set and that its
// fields satisfy their constraints.
func (a Artifact) Validate() error {
	if err := Validator().Struct(a); err != nil {
		return fmt.Errorf("invalid %s artifact: %w", a.Kind, err)
	}

	set := 0
	var match bool
	if a.GradualEnhancement != nil {
		set++
		match = match || a.Kind == StrategyGradualEnhancement
	}
	if a.PromptRefinement != nil {
		set++
		match = match || a.Kind == StrategyPromptRefinement
	}
	if a.ExampleAugmentation != nil {
		set++
		match = match || a.Kind == StrategyExampleAugmentation
	}
	if a.TemperatureTuning != nil {
		set++
		match = match || a.Kind == StrategyTemperatureTuning
	}
	if a.ContextExpansion != nil {
		set++
		match = match || a.Kind == StrategyContextExpansion
	}
	if set != 1 || !match {
		return fmt.Errorf("invalid %s artifact: expected exactly one matching strategy config, got %d", a.Kind, set)
	}
	return nil
}

// Encode renders the artifact as the content written to a target location.
func (a Artifact) Encode() (string, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding artifact: %w", err)
	}
	return string(data), nil
}
