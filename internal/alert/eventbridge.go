package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

const (
	defaultEventSource = "qualityloop"
	alertDetailType    = "QualityAlert"
)

// EventBridgeAPI is the subset of the EventBridge client used by EventBridgeSink.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, input *eventbridge.PutEventsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeSink puts alerts on an event bus for rule-based routing.
type EventBridgeSink struct {
	client  EventBridgeAPI
	busName string
	source  string
}

// EventBridgeSinkOption configures an EventBridgeSink.
type EventBridgeSinkOption func(*EventBridgeSink)

// WithEventBridgeClient sets a custom EventBridge client (useful for testing).
func WithEventBridgeClient(c EventBridgeAPI) EventBridgeSinkOption {
	return func(s *EventBridgeSink) { s.client = c }
}

// NewEventBridgeSink creates a new EventBridge alert sink.
func NewEventBridgeSink(busName, source string, opts ...EventBridgeSinkOption) (*EventBridgeSink, error) {
	if busName == "" {
		return nil, fmt.Errorf("event bus name required")
	}
	if source == "" {
		source = defaultEventSource
	}
	s := &EventBridgeSink{busName: busName, source: source}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		s.client = eventbridge.NewFromConfig(cfg)
	}
	return s, nil
}

// Name returns the sink identifier.
func (s *EventBridgeSink) Name() string { return "eventbridge" }

// Send puts the alert on the bus as a QualityAlert event.
func (s *EventBridgeSink) Send(ctx context.Context, alert types.QualityAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	out, err := s.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			EventBusName: aws.String(s.busName),
			Source:       aws.String(s.source),
			DetailType:   aws.String(alertDetailType),
			Detail:       aws.String(string(data)),
			Resources:    []string{alert.Spectrum},
		}},
	})
	if err != nil {
		return fmt.Errorf("putting event: %w", err)
	}
	if out.FailedEntryCount > 0 {
		msg := "unknown"
		if len(out.Entries) > 0 && out.Entries[0].ErrorMessage != nil {
			msg = *out.Entries[0].ErrorMessage
		}
		return fmt.Errorf("event rejected: %s", msg)
	}
	return nil
}
