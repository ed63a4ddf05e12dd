package lambda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// ErrRejected is returned when the server answers a forward with a 4xx.
// Retrying the same payload will not help.
var ErrRejected = errors.New("samples rejected by server")

// Forwarder posts sample batches to a running qualityloop server's
// /api/samples endpoint. A circuit breaker stops hammering a server that
// keeps failing; open-circuit errors are retried by SQS like any other.
type Forwarder struct {
	url     string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// ForwardResult is the server's intake summary.
type ForwardResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// NewForwarder creates a Forwarder for the server at baseURL.
func NewForwarder(baseURL, apiKey string, timeout time.Duration) *Forwarder {
	return &Forwarder{
		url:    strings.TrimRight(baseURL, "/") + "/api/samples",
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "qualityloop-intake",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrRejected)
			},
		}),
	}
}

// Forward sends samples in one request.
func (f *Forwarder) Forward(ctx context.Context, samples []types.QualitySample) (ForwardResult, error) {
	body, err := json.Marshal(samples)
	if err != nil {
		return ForwardResult{}, fmt.Errorf("encoding samples: %w", err)
	}
	out, err := f.breaker.Execute(func() (interface{}, error) {
		return f.post(ctx, body)
	})
	if err != nil {
		return ForwardResult{}, err
	}
	return out.(ForwardResult), nil
}

func (f *Forwarder) post(ctx context.Context, body []byte) (ForwardResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return ForwardResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("X-API-Key", f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return ForwardResult{}, fmt.Errorf("posting samples: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return ForwardResult{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	case resp.StatusCode >= 400:
		return ForwardResult{}, fmt.Errorf("%w: %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var res ForwardResult
	if err := json.Unmarshal(data, &res); err != nil {
		return ForwardResult{}, fmt.Errorf("decoding intake response: %w", err)
	}
	return res, nil
}
