// Package config handles loading and validation of qualityloop.yaml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// FileName is the project config file looked up by Load.
const FileName = "qualityloop.yaml"

// Load reads and parses qualityloop.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates config bytes.
func Parse(data []byte) (*types.ProjectConfig, error) {
	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *types.ProjectConfig) error {
	if err := validateThresholds(cfg.Monitor.Thresholds); err != nil {
		return err
	}

	durations := map[string]string{
		"monitor.interval":             cfg.Monitor.Interval,
		"alerting.cooldown":            cfg.Alerting.Cooldown,
		"alerting.deliveryTimeout":     cfg.Alerting.DeliveryTimeout,
		"optimization.cooldown":        cfg.Optimization.Cooldown,
		"optimization.manualCooldown":  cfg.Optimization.ManualCooldown,
		"optimization.cycleTimeout":    cfg.Optimization.CycleTimeout,
		"optimization.evaluationDelay": cfg.Optimization.EvaluationDelay,
		"deployment.lockTimeout":       cfg.Deployment.LockTimeout,
		"abtest.sampleInterval":        cfg.ABTest.SampleInterval,
		"abtest.duration":              cfg.ABTest.Duration,
		"metricSource.collectTimeout":  cfg.MetricSource.CollectTimeout,
	}
	for field, v := range durations {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("%s: invalid duration %q", field, v)
		}
	}

	if s := cfg.ABTest.TrafficSplit; s < 0 || s > 1 {
		return fmt.Errorf("abtest.trafficSplit must be within [0,1]")
	}

	switch cfg.Learning.Backend {
	case "", "memory":
	case "sqlite":
		if cfg.Learning.Path == "" {
			return fmt.Errorf("learning.path is required when backend is sqlite")
		}
	case "dynamodb":
		if cfg.Learning.TableName == "" {
			return fmt.Errorf("learning.tableName is required when backend is dynamodb")
		}
	default:
		return fmt.Errorf("unsupported learning backend: %s", cfg.Learning.Backend)
	}

	switch cfg.History.Backend {
	case "", "memory":
	case "file":
		if cfg.History.Path == "" {
			return fmt.Errorf("history.path is required when backend is file")
		}
	case "sqlite":
		if cfg.History.Path == "" {
			return fmt.Errorf("history.path is required when backend is sqlite")
		}
	case "dynamodb":
		if cfg.History.TableName == "" {
			return fmt.Errorf("history.tableName is required when backend is dynamodb")
		}
	default:
		return fmt.Errorf("unsupported history backend: %s", cfg.History.Backend)
	}

	switch cfg.Artifacts.Backend {
	case "", "memory":
	case "file":
		if cfg.Artifacts.Dir == "" {
			return fmt.Errorf("artifacts.dir is required when backend is file")
		}
	case "s3":
		if cfg.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket is required when backend is s3")
		}
	default:
		return fmt.Errorf("unsupported artifacts backend: %s", cfg.Artifacts.Backend)
	}

	switch cfg.MetricSource.Type {
	case "", "none":
	case "influxdb":
		ic := cfg.MetricSource.InfluxDB
		if ic == nil {
			return fmt.Errorf("metricSource.influxdb is required when type is influxdb")
		}
		if ic.URL == "" || ic.Org == "" || ic.Bucket == "" {
			return fmt.Errorf("metricSource.influxdb requires url, org and bucket")
		}
	case "sqs":
		if cfg.MetricSource.SQS == nil || cfg.MetricSource.SQS.QueueURL == "" {
			return fmt.Errorf("metricSource.sqs.queueUrl is required when type is sqs")
		}
	default:
		return fmt.Errorf("unsupported metric source: %s", cfg.MetricSource.Type)
	}

	for i, ch := range cfg.Alerting.Channels {
		if ch.Type == "" {
			return fmt.Errorf("alerting.channels[%d].type is required", i)
		}
	}
	return nil
}

// validateThresholds requires the configured bands to be strictly ordered.
// Unset bands take their defaults first.
func validateThresholds(th types.Thresholds) error {
	def := types.DefaultThresholds()
	pick := func(v, d float64) float64 {
		if v > 0 {
			return v
		}
		return d
	}
	bands := []struct {
		name  string
		value float64
	}{
		{"critical", pick(th.Critical, def.Critical)},
		{"warning", pick(th.Warning, def.Warning)},
		{"target", pick(th.Target, def.Target)},
		{"excellent", pick(th.Excellent, def.Excellent)},
	}
	for i, b := range bands {
		if b.value > 1 {
			return fmt.Errorf("monitor.thresholds.%s must be at most 1", b.name)
		}
		if i > 0 && b.value <= bands[i-1].value {
			return fmt.Errorf("monitor.thresholds.%s must be greater than %s", b.name, bands[i-1].name)
		}
	}
	if th.Variance < 0 || th.WindowSize < 0 {
		return fmt.Errorf("monitor.thresholds.variance and windowSize must not be negative")
	}
	return nil
}
