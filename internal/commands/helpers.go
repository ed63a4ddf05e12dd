// Package commands implements the CLI subcommands for the qualityloop binary.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/dwsmith1983/qualityloop/internal/artifact"
	"github.com/dwsmith1983/qualityloop/internal/provider"
	ddbprov "github.com/dwsmith1983/qualityloop/internal/provider/dynamodb"
	"github.com/dwsmith1983/qualityloop/internal/provider/file"
	"github.com/dwsmith1983/qualityloop/internal/provider/memory"
	"github.com/dwsmith1983/qualityloop/internal/provider/sqlite"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// stores holds the opened persistence backends and everything that must be
// stopped on shutdown.
type stores struct {
	patterns  provider.PatternStore
	history   provider.HistoryStore
	lifecycle []provider.Lifecycle
}

// stop stops every backend in reverse start order.
func (s *stores) stop(ctx context.Context) {
	for i := len(s.lifecycle) - 1; i >= 0; i-- {
		_ = s.lifecycle[i].Stop(ctx)
	}
}

// openStores creates the configured learning and history backends. A
// memory backend shared by both is created once, as is a sqlite database
// both point at.
func openStores(ctx context.Context, cfg *types.ProjectConfig) (*stores, error) {
	s := &stores{}
	var mem *memory.Store
	memStore := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}
	dbs := make(map[string]*sqlite.Store)
	sqliteStore := func(path string) (*sqlite.Store, error) {
		if st, ok := dbs[path]; ok {
			return st, nil
		}
		st, err := sqlite.New(ctx, path)
		if err != nil {
			return nil, err
		}
		dbs[path] = st
		return st, nil
	}
	started := func(v any) error {
		lc, ok := v.(provider.Lifecycle)
		if !ok {
			return nil
		}
		for _, have := range s.lifecycle {
			if have == lc {
				return nil
			}
		}
		if err := lc.Start(ctx); err != nil {
			return err
		}
		s.lifecycle = append(s.lifecycle, lc)
		return nil
	}

	switch cfg.Learning.Backend {
	case "", "memory":
		s.patterns = memStore()
	case "sqlite":
		st, err := sqliteStore(cfg.Learning.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite learning store: %w", err)
		}
		s.patterns = st
	case "dynamodb":
		st, err := ddbprov.New(ctx, dynamoConfig(cfg, cfg.Learning.TableName))
		if err != nil {
			return nil, fmt.Errorf("creating dynamodb learning store: %w", err)
		}
		s.patterns = st
	default:
		return nil, fmt.Errorf("unsupported learning backend: %s", cfg.Learning.Backend)
	}
	if err := started(s.patterns); err != nil {
		return nil, fmt.Errorf("starting learning store: %w", err)
	}

	switch cfg.History.Backend {
	case "", "memory":
		s.history = memStore()
	case "file":
		st, err := file.NewHistoryStore(cfg.History.Path)
		if err != nil {
			s.stop(ctx)
			return nil, fmt.Errorf("opening history file: %w", err)
		}
		s.history = st
	case "sqlite":
		st, err := sqliteStore(cfg.History.Path)
		if err != nil {
			s.stop(ctx)
			return nil, fmt.Errorf("opening sqlite history store: %w", err)
		}
		s.history = st
	case "dynamodb":
		st, err := ddbprov.New(ctx, dynamoConfig(cfg, cfg.History.TableName))
		if err != nil {
			s.stop(ctx)
			return nil, fmt.Errorf("creating dynamodb history store: %w", err)
		}
		s.history = st
	default:
		s.stop(ctx)
		return nil, fmt.Errorf("unsupported history backend: %s", cfg.History.Backend)
	}
	if err := started(s.history); err != nil {
		s.stop(ctx)
		return nil, fmt.Errorf("starting history store: %w", err)
	}
	return s, nil
}

func dynamoConfig(cfg *types.ProjectConfig, table string) ddbprov.Config {
	dc := ddbprov.Config{TableName: table}
	if cfg.AWS != nil {
		dc.Region = cfg.AWS.Region
		dc.Endpoint = cfg.AWS.Endpoint
		dc.CreateTable = cfg.AWS.Endpoint != ""
	}
	return dc
}

// loadAWS loads the shared AWS config. A custom endpoint implies a local
// emulator, which gets static credentials.
func loadAWS(ctx context.Context, cfg *types.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg != nil && cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg != nil && cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}

// endpointOf returns the custom AWS endpoint, or nil.
func endpointOf(cfg *types.ProjectConfig) *string {
	if cfg.AWS == nil || cfg.AWS.Endpoint == "" {
		return nil
	}
	return aws.String(cfg.AWS.Endpoint)
}

// newArtifactStore creates the configured artifact store. s3Client is only
// called for the s3 backend.
func newArtifactStore(cfg types.ArtifactConfig, s3Client func() (artifact.S3API, error)) (artifact.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return artifact.NewMemoryStore(), nil
	case "file":
		return artifact.NewFileStore(cfg.Dir)
	case "s3":
		client, err := s3Client()
		if err != nil {
			return nil, err
		}
		return artifact.NewS3Store(client, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unsupported artifacts backend: %s", cfg.Backend)
	}
}

// newLogger builds the JSON process logger at the configured level.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			return nil, fmt.Errorf("invalid logLevel %q: %w", level, err)
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
