package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// InfluxTokenEnv overrides any InfluxDB token found in the config file.
const InfluxTokenEnv = "QUALITYLOOP_INFLUX_TOKEN"

// SecretsAPI is the subset of the Secrets Manager client used for
// credential resolution.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ResolveSecrets fills credentials that are not stored inline. The
// environment wins over tokenSecretArn, which wins over an inline token.
// client may be nil when no secret ARN is configured.
func ResolveSecrets(ctx context.Context, cfg *types.ProjectConfig, client SecretsAPI) error {
	ic := cfg.MetricSource.InfluxDB
	if ic == nil {
		return nil
	}
	if tok := os.Getenv(InfluxTokenEnv); tok != "" {
		ic.Token = tok
		return nil
	}
	if ic.TokenSecretARN == "" {
		return nil
	}
	if client == nil {
		return fmt.Errorf("influxdb tokenSecretArn set but no secrets client available")
	}
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ic.TokenSecretARN),
	})
	if err != nil {
		return fmt.Errorf("resolving influxdb token: %w", err)
	}
	tok := strings.TrimSpace(aws.ToString(out.SecretString))
	if tok == "" {
		return fmt.Errorf("secret %s has no string value", ic.TokenSecretARN)
	}
	ic.Token = tok
	return nil
}

// NeedsSecrets reports whether ResolveSecrets would call Secrets Manager.
func NeedsSecrets(cfg *types.ProjectConfig) bool {
	ic := cfg.MetricSource.InfluxDB
	return ic != nil && ic.TokenSecretARN != "" && os.Getenv(InfluxTokenEnv) == ""
}
