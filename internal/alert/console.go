package alert

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// ConsoleSink writes alerts to the terminal with color.
type ConsoleSink struct{}

// NewConsoleSink creates a new console alert sink.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{}
}

// Name returns the sink identifier.
func (s *ConsoleSink) Name() string { return "console" }

// Send writes an alert to the terminal with color-coded severity.
func (s *ConsoleSink) Send(_ context.Context, alert types.QualityAlert) error {
	var prefix string
	switch alert.Severity {
	case types.SeverityCritical:
		prefix = color.RedString("[CRITICAL]")
	case types.SeverityHigh:
		prefix = color.MagentaString("[HIGH]")
	case types.SeverityMedium:
		prefix = color.YellowString("[MEDIUM]")
	default:
		prefix = color.CyanString("[LOW]")
	}

	if alert.Model != "" {
		fmt.Printf("%s [%s/%s] %s\n", prefix, alert.Spectrum, alert.Model, alert.Message)
	} else {
		fmt.Printf("%s [%s] %s\n", prefix, alert.Spectrum, alert.Message)
	}
	return nil
}
