package metricsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// SQS defaults.
const (
	defaultWaitTimeSeconds = 20
	defaultMaxMessages     = 10
	receiveErrorBackoff    = 5 * time.Second
)

// SQSAPI is the subset of the SQS client used by SQSSource.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSSource long-polls a queue of JSON quality samples. A message body holds
// either one sample or an array of samples.
type SQSSource struct {
	client   SQSAPI
	queueURL string
	wait     int32
	max      int32
	backoff  time.Duration
	logger   *slog.Logger
}

// SQSOption configures an SQSSource.
type SQSOption func(*SQSSource)

// WithSQSClient sets a custom SQS client (useful for testing).
func WithSQSClient(c SQSAPI) SQSOption {
	return func(s *SQSSource) { s.client = c }
}

// WithReceiveBackoff overrides the pause after a failed receive.
func WithReceiveBackoff(d time.Duration) SQSOption {
	return func(s *SQSSource) { s.backoff = d }
}

// NewSQSSource creates a consumer for cfg.QueueURL.
func NewSQSSource(ctx context.Context, cfg types.SQSConfig, logger *slog.Logger, opts ...SQSOption) (*SQSSource, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("SQS queue URL required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQSSource{
		queueURL: cfg.QueueURL,
		wait:     cfg.WaitTimeSeconds,
		max:      cfg.MaxMessages,
		backoff:  receiveErrorBackoff,
		logger:   logger,
	}
	if s.wait <= 0 || s.wait > 20 {
		s.wait = defaultWaitTimeSeconds
	}
	if s.max <= 0 || s.max > 10 {
		s.max = defaultMaxMessages
	}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		s.client = sqs.NewFromConfig(awsCfg)
	}
	return s, nil
}

// Run receives until ctx is cancelled. Messages whose samples were all
// accepted, or that cannot be decoded, are deleted. A message with a sample
// sink refused stays on the queue and is redelivered after its visibility
// timeout.
func (s *SQSSource) Run(ctx context.Context, sink func(types.QualitySample) bool) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.queueURL),
			MaxNumberOfMessages: s.max,
			WaitTimeSeconds:     s.wait,
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Error("sqs receive failed", "queue", s.queueURL, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.backoff):
			}
			continue
		}
		for _, msg := range out.Messages {
			if s.handle(aws.ToString(msg.Body), sink) {
				s.delete(ctx, msg.ReceiptHandle)
			}
		}
	}
}

// handle reports whether the message is finished with.
func (s *SQSSource) handle(body string, sink func(types.QualitySample) bool) bool {
	samples, err := DecodeSamples([]byte(body))
	if err != nil {
		s.logger.Warn("dropping undecodable sqs message", "queue", s.queueURL, "error", err)
		return true
	}
	accepted := true
	for _, sample := range samples {
		if err := sample.Validate(); err != nil {
			s.logger.Warn("dropping invalid sample", "queue", s.queueURL, "error", err)
			continue
		}
		if !sink(sample) {
			accepted = false
		}
	}
	return accepted
}

func (s *SQSSource) delete(ctx context.Context, receipt *string) {
	if receipt == nil {
		return
	}
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: receipt,
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error("sqs delete failed", "queue", s.queueURL, "error", err)
	}
}

// DecodeSamples parses a JSON sample or array of samples.
func DecodeSamples(data []byte) ([]types.QualitySample, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var out []types.QualitySample
		if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
			return nil, fmt.Errorf("decoding sample batch: %w", err)
		}
		return out, nil
	}
	var one types.QualitySample
	if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
		return nil, fmt.Errorf("decoding sample: %w", err)
	}
	return []types.QualitySample{one}, nil
}
