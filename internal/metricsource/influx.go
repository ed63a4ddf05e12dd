package metricsource

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/query"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// DefaultMeasurement holds one point per scored interaction, tagged with
// spectrum and model, with the score in the "score" field.
const DefaultMeasurement = "quality_scores"

// recordIterator is the cursor shape of *api.QueryTableResult.
type recordIterator interface {
	Next() bool
	Record() *query.FluxRecord
	Err() error
	Close() error
}

type queryFunc func(ctx context.Context, flux string) (recordIterator, error)

// InfluxSource pulls samples from InfluxDB with a Flux query.
type InfluxSource struct {
	bucket      string
	measurement string
	logger      *slog.Logger
	query       queryFunc
	close       func()
	ping        func(ctx context.Context) (bool, error)
}

// NewInfluxSource connects to the configured server. The token must already
// be resolved.
func NewInfluxSource(cfg types.InfluxDBConfig, logger *slog.Logger) (*InfluxSource, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influxdb url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	queryAPI := client.QueryAPI(cfg.Org)
	s := newInfluxSource(cfg, logger, func(ctx context.Context, flux string) (recordIterator, error) {
		return queryAPI.Query(ctx, flux)
	})
	s.close = client.Close
	s.ping = client.Ping
	return s, nil
}

func newInfluxSource(cfg types.InfluxDBConfig, logger *slog.Logger, q queryFunc) *InfluxSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Measurement
	if m == "" {
		m = DefaultMeasurement
	}
	return &InfluxSource{bucket: cfg.Bucket, measurement: m, logger: logger, query: q}
}

// Collect implements Source. Records that do not decode into a valid sample
// are logged and skipped.
func (s *InfluxSource) Collect(ctx context.Context, spectrum string, since time.Time) ([]types.QualitySample, error) {
	result, err := s.query(ctx, s.flux(spectrum, since))
	if err != nil {
		return nil, fmt.Errorf("querying influxdb for %s: %w", spectrum, err)
	}
	defer func() { _ = result.Close() }()

	var out []types.QualitySample
	for result.Next() {
		sample, err := decodeRecord(spectrum, result.Record())
		if err != nil {
			s.logger.Warn("skipping influx record", "spectrum", spectrum, "error", err)
			continue
		}
		out = append(out, sample)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("reading influxdb result for %s: %w", spectrum, err)
	}
	return out, nil
}

// Healthy pings the server. Sources without a live client are always healthy.
func (s *InfluxSource) Healthy(ctx context.Context) bool {
	if s.ping == nil {
		return true
	}
	ok, err := s.ping(ctx)
	return err == nil && ok
}

// Close releases the client.
func (s *InfluxSource) Close() {
	if s.close != nil {
		s.close()
	}
}

func (s *InfluxSource) flux(spectrum string, since time.Time) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %s and r._field == "score" and r.spectrum == %s)
  |> sort(columns: ["_time"])`,
		strconv.Quote(s.bucket),
		since.UTC().Add(time.Nanosecond).Format(time.RFC3339Nano),
		strconv.Quote(s.measurement),
		strconv.Quote(spectrum))
}

func decodeRecord(spectrum string, rec *query.FluxRecord) (types.QualitySample, error) {
	if rec == nil {
		return types.QualitySample{}, fmt.Errorf("nil record")
	}
	var score float64
	switch v := rec.Value().(type) {
	case float64:
		score = v
	case int64:
		score = float64(v)
	default:
		return types.QualitySample{}, fmt.Errorf("unexpected score type %T", v)
	}
	sample := types.QualitySample{
		Spectrum:  spectrum,
		Score:     score,
		Timestamp: rec.Time(),
	}
	if m, ok := rec.ValueByKey("model").(string); ok {
		sample.Model = m
	}
	if err := sample.Validate(); err != nil {
		return types.QualitySample{}, err
	}
	return sample, nil
}
