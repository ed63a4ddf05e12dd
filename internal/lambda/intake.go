package lambda

import (
	"context"
	"errors"

	"github.com/aws/aws-lambda-go/events"

	"github.com/dwsmith1983/qualityloop/internal/metricsource"
)

// HandleSQS forwards every message in an SQS batch to the qualityloop
// server. Messages that cannot be decoded, or that the server rejects, are
// dropped; transport failures are reported as batch item failures so SQS
// redelivers only those messages.
func HandleSQS(ctx context.Context, d *Deps, evt events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	forwarded, dropped := 0, 0

	for _, msg := range evt.Records {
		samples, err := metricsource.DecodeSamples([]byte(msg.Body))
		if err != nil {
			d.Logger.Warn("dropping undecodable message", "messageId", msg.MessageId, "error", err)
			dropped++
			continue
		}
		valid := samples[:0]
		for _, s := range samples {
			if err := s.Validate(); err != nil {
				d.Logger.Warn("dropping invalid sample", "messageId", msg.MessageId, "spectrum", s.Spectrum, "error", err)
				dropped++
				continue
			}
			valid = append(valid, s)
		}
		if len(valid) == 0 {
			continue
		}

		res, err := d.Forwarder.Forward(ctx, valid)
		switch {
		case errors.Is(err, ErrRejected):
			d.Logger.Warn("server rejected samples", "messageId", msg.MessageId, "error", err)
			dropped += len(valid)
		case err != nil:
			d.Logger.Error("forwarding samples failed", "messageId", msg.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
		default:
			forwarded += res.Accepted
			dropped += res.Rejected
		}
	}

	d.Logger.Info("intake batch processed",
		"messages", len(evt.Records),
		"forwarded", forwarded,
		"dropped", dropped,
		"retry", len(resp.BatchItemFailures),
	)
	return resp, nil
}
