package metricsource

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dwsmith1983/qualityloop/internal/testutil"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFake_CollectSince(t *testing.T) {
	f := NewFake()
	f.Add(testutil.Samples("billing", t0, 0.9, 0.8, 0.7)...)
	f.Add(testutil.Samples("search", t0, 0.99)...)

	got, err := f.Collect(context.Background(), "billing", t0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.8, got[0].Score, 1e-9)
	assert.InDelta(t, 0.7, got[1].Score, 1e-9)

	f.FailWith("billing", errors.New("down"))
	_, err = f.Collect(context.Background(), "billing", time.Time{})
	assert.EqualError(t, err, "down")

	f.FailWith("billing", nil)
	got, err = f.Collect(context.Background(), "billing", time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 3, f.Calls())
}

type fakeRows struct {
	records []*query.FluxRecord
	pos     int
	err     error
	closed  bool
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Record() *query.FluxRecord { return r.records[r.pos-1] }
func (r *fakeRows) Err() error                { return r.err }
func (r *fakeRows) Close() error {
	r.closed = true
	return nil
}

func record(score interface{}, model string, ts time.Time) *query.FluxRecord {
	return query.NewFluxRecord(0, map[string]interface{}{
		"_value": score,
		"_time":  ts,
		"model":  model,
	})
}

func TestInfluxSource_Collect(t *testing.T) {
	rows := &fakeRows{records: []*query.FluxRecord{
		record(0.91, "gpt-x", t0),
		record("bad", "gpt-x", t0.Add(time.Minute)),
		record(1.7, "gpt-x", t0.Add(2*time.Minute)),
		record(int64(1), "", t0.Add(3*time.Minute)),
	}}
	var flux string
	src := newInfluxSource(types.InfluxDBConfig{Bucket: "quality"}, nil, func(_ context.Context, q string) (recordIterator, error) {
		flux = q
		return rows, nil
	})

	got, err := src.Collect(context.Background(), "billing", t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.QualitySample{Spectrum: "billing", Model: "gpt-x", Score: 0.91, Timestamp: t0}, got[0])
	assert.InDelta(t, 1.0, got[1].Score, 1e-9)
	assert.True(t, rows.closed)

	assert.Contains(t, flux, `from(bucket: "quality")`)
	assert.Contains(t, flux, `r._measurement == "quality_scores"`)
	assert.Contains(t, flux, `r.spectrum == "billing"`)
	assert.True(t, src.Healthy(context.Background()))
}

func TestInfluxSource_QuotesSpectrum(t *testing.T) {
	src := newInfluxSource(types.InfluxDBConfig{Bucket: "b", Measurement: "m"}, nil, nil)
	flux := src.flux(`a" or true or "`, t0)
	assert.Contains(t, flux, `r.spectrum == "a\" or true or \""`)
	assert.Contains(t, flux, `r._measurement == "m"`)
}

func TestInfluxSource_Errors(t *testing.T) {
	src := newInfluxSource(types.InfluxDBConfig{Bucket: "b"}, nil, func(context.Context, string) (recordIterator, error) {
		return nil, errors.New("unauthorized")
	})
	_, err := src.Collect(context.Background(), "s", t0)
	assert.ErrorContains(t, err, "unauthorized")

	src = newInfluxSource(types.InfluxDBConfig{Bucket: "b"}, nil, func(context.Context, string) (recordIterator, error) {
		return &fakeRows{err: errors.New("stream reset")}, nil
	})
	_, err = src.Collect(context.Background(), "s", t0)
	assert.ErrorContains(t, err, "stream reset")
}

func TestNewInfluxSource_RequiresConnection(t *testing.T) {
	_, err := NewInfluxSource(types.InfluxDBConfig{URL: "http://localhost:8086"}, nil)
	assert.Error(t, err)
}

type mockSQS struct {
	mu       sync.Mutex
	batches  [][]sqstypes.Message
	deleted  []string
	receives int
	fail     error
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.mu.Lock()
	m.receives++
	if m.fail != nil {
		err := m.fail
		m.mu.Unlock()
		return nil, err
	}
	if len(m.batches) > 0 {
		b := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: b}, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *mockSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQS) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func msg(receipt, body string) sqstypes.Message {
	return sqstypes.Message{ReceiptHandle: aws.String(receipt), Body: aws.String(body)}
}

func TestSQSSource_Run(t *testing.T) {
	mock := &mockSQS{batches: [][]sqstypes.Message{{
		msg("single", `{"spectrum":"billing","model":"gpt-x","score":0.9,"timestamp":"2026-03-01T12:00:00Z"}`),
		msg("batch", `[{"spectrum":"billing","score":0.8,"timestamp":"2026-03-01T12:01:00Z"},{"spectrum":"search","score":0.7,"timestamp":"2026-03-01T12:02:00Z"}]`),
		msg("garbage", `not json`),
		msg("refused", `{"spectrum":"full","score":0.5,"timestamp":"2026-03-01T12:03:00Z"}`),
		msg("invalid", `{"spectrum":"billing","score":4,"timestamp":"2026-03-01T12:04:00Z"}`),
	}}}
	src, err := NewSQSSource(context.Background(), types.SQSConfig{QueueURL: "https://sqs/q"}, nil, WithSQSClient(mock))
	require.NoError(t, err)

	var mu sync.Mutex
	var got []types.QualitySample
	sink := func(s types.QualitySample) bool {
		if s.Spectrum == "full" {
			return false
		}
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
		return true
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, sink) }()

	testutil.WaitFor(t, 2*time.Second, func() bool { return len(mock.Deleted()) == 4 }, "messages deleted")
	cancel()
	require.NoError(t, <-done)

	assert.ElementsMatch(t, []string{"single", "batch", "garbage", "invalid"}, mock.Deleted())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, "gpt-x", got[0].Model)
	assert.Equal(t, "search", got[2].Spectrum)
}

func TestSQSSource_ReceiveErrorBacksOff(t *testing.T) {
	mock := &mockSQS{fail: errors.New("throttled")}
	src, err := NewSQSSource(context.Background(), types.SQSConfig{QueueURL: "q"}, nil,
		WithSQSClient(mock), WithReceiveBackoff(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, func(types.QualitySample) bool { return true }) }()

	testutil.WaitFor(t, 2*time.Second, func() bool {
		mock.mu.Lock()
		defer mock.mu.Unlock()
		return mock.receives >= 3
	}, "receive retried")
	cancel()
	require.NoError(t, <-done)
}

func TestNewSQSSource_Defaults(t *testing.T) {
	_, err := NewSQSSource(context.Background(), types.SQSConfig{}, nil)
	assert.ErrorContains(t, err, "queue URL required")

	src, err := NewSQSSource(context.Background(), types.SQSConfig{QueueURL: "q", WaitTimeSeconds: 99, MaxMessages: -1}, nil, WithSQSClient(&mockSQS{}))
	require.NoError(t, err)
	assert.Equal(t, int32(20), src.wait)
	assert.Equal(t, int32(10), src.max)
}

func TestDecodeSamples(t *testing.T) {
	got, err := DecodeSamples([]byte("  [ ]"))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = DecodeSamples([]byte(`[{"score":"x"}]`))
	assert.Error(t, err)

	got, err = DecodeSamples([]byte(strings.TrimSpace(`{"spectrum":"s","score":0.5}`)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s", got[0].Spectrum)
}

func TestArmSampler(t *testing.T) {
	f := NewFake()
	samples := testutil.Samples("billing", t0, 0.8, 0.9, 0.85, 0.95)
	samples[0].Model = ArmControl
	samples[1].Model = ArmVariant
	samples[2].Model = "primary"
	samples[3].Model = ArmVariant
	f.Add(samples...)

	sampler := NewArmSampler(f, func(scope string) string {
		return strings.TrimPrefix(scope, "prompts/")
	})
	control, variant, err := sampler.Sample(context.Background(), "prompts/billing", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.8, 0.85}, control)
	assert.Equal(t, []float64{0.9, 0.95}, variant)

	f.FailWith("billing", errors.New("timeout"))
	_, _, err = sampler.Sample(context.Background(), "prompts/billing", time.Time{})
	assert.ErrorContains(t, err, "prompts/billing")

	control, variant, err = NewArmSampler(f, nil).Sample(context.Background(), "search", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, control)
	assert.Empty(t, variant)
}
