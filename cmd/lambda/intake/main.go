// intake Lambda forwards quality samples from an SQS queue to a running
// qualityloop server. Configure it with ReportBatchItemFailures so only
// failed messages are redelivered.
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	awslambda "github.com/aws/aws-lambda-go/lambda"

	intlambda "github.com/dwsmith1983/qualityloop/internal/lambda"
)

var (
	deps     *intlambda.Deps
	depsOnce sync.Once
	depsErr  error
)

func getDeps() (*intlambda.Deps, error) {
	depsOnce.Do(func() {
		deps, depsErr = intlambda.Init(context.Background())
	})
	return deps, depsErr
}

func handler(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
	d, err := getDeps()
	if err != nil {
		return events.SQSEventResponse{}, err
	}
	return intlambda.HandleSQS(ctx, d, evt)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
