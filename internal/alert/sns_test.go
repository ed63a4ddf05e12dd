package alert

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

type mockSNS struct {
	published []*sns.PublishInput
}

func (m *mockSNS) Publish(_ context.Context, input *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.published = append(m.published, input)
	return &sns.PublishOutput{}, nil
}

func TestSNSSink_Send(t *testing.T) {
	mock := &mockSNS{}
	sink, err := NewSNSSink("arn:aws:sns:us-east-1:123456789:alerts", WithSNSClient(mock))
	require.NoError(t, err)

	alert := types.QualityAlert{
		Type:      types.AlertThresholdBreach,
		Severity:  types.SeverityCritical,
		Spectrum:  "customer_profile",
		Message:   "quality 0.81 below critical",
		Timestamp: time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC),
	}

	require.NoError(t, sink.Send(context.Background(), alert))

	require.Len(t, mock.published, 1)
	pub := mock.published[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789:alerts", *pub.TopicArn)
	assert.Equal(t, "[critical] customer_profile threshold_breach", *pub.Subject)

	var decoded types.QualityAlert
	require.NoError(t, json.Unmarshal([]byte(*pub.Message), &decoded))
	assert.Equal(t, types.SeverityCritical, decoded.Severity)
	assert.Equal(t, "customer_profile", decoded.Spectrum)
}

func TestSNSSink_EmptyTopicARN(t *testing.T) {
	_, err := NewSNSSink("")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "topic ARN required")
}

func TestSNSSink_SubjectTruncation(t *testing.T) {
	mock := &mockSNS{}
	sink, err := NewSNSSink("arn:aws:sns:us-east-1:123456789:alerts", WithSNSClient(mock))
	require.NoError(t, err)

	alert := testAlert()
	alert.Spectrum = strings.Repeat("very-long-spectrum-", 10)

	require.NoError(t, sink.Send(context.Background(), alert))
	assert.LessOrEqual(t, len(*mock.published[0].Subject), 100)
}

type mockEventBridge struct {
	inputs []*eventbridge.PutEventsInput
	failed int32
}

func (m *mockEventBridge) PutEvents(_ context.Context, input *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	m.inputs = append(m.inputs, input)
	out := &eventbridge.PutEventsOutput{FailedEntryCount: m.failed}
	if m.failed > 0 {
		msg := "throttled"
		out.Entries = []ebtypes.PutEventsResultEntry{{ErrorMessage: &msg}}
	}
	return out, nil
}

func TestEventBridgeSink_Send(t *testing.T) {
	mock := &mockEventBridge{}
	sink, err := NewEventBridgeSink("quality-bus", "", WithEventBridgeClient(mock))
	require.NoError(t, err)
	assert.Equal(t, "eventbridge", sink.Name())

	require.NoError(t, sink.Send(context.Background(), testAlert()))
	require.Len(t, mock.inputs, 1)
	entry := mock.inputs[0].Entries[0]
	assert.Equal(t, "quality-bus", *entry.EventBusName)
	assert.Equal(t, "qualityloop", *entry.Source)
	assert.Equal(t, "QualityAlert", *entry.DetailType)
	assert.Contains(t, *entry.Detail, "customer_profile")
}

func TestEventBridgeSink_FailedEntry(t *testing.T) {
	mock := &mockEventBridge{failed: 1}
	sink, err := NewEventBridgeSink("quality-bus", "custom", WithEventBridgeClient(mock))
	require.NoError(t, err)

	err = sink.Send(context.Background(), testAlert())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestEventBridgeSink_MissingBus(t *testing.T) {
	_, err := NewEventBridgeSink("", "")
	assert.Error(t, err)
}
