package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/qualityloop/internal/alert"
	"github.com/dwsmith1983/qualityloop/internal/artifact"
	"github.com/dwsmith1983/qualityloop/internal/config"
	"github.com/dwsmith1983/qualityloop/internal/governor"
	"github.com/dwsmith1983/qualityloop/internal/history"
	"github.com/dwsmith1983/qualityloop/internal/learning"
	"github.com/dwsmith1983/qualityloop/internal/metricsource"
	"github.com/dwsmith1983/qualityloop/internal/monitor"
	"github.com/dwsmith1983/qualityloop/internal/optimizer"
	"github.com/dwsmith1983/qualityloop/internal/orchestrator"
	"github.com/dwsmith1983/qualityloop/internal/server"
	"github.com/dwsmith1983/qualityloop/internal/telemetry"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

const shutdownTimeout = 15 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd(version string) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the quality loop and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dir, version)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory containing "+config.FileName)
	return cmd
}

func runServe(dir, version string) error {
	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx := context.Background()

	// AWS clients are only built for backends that need them, so a missing
	// AWS setup is reported lazily.
	awsCfg, awsErr := loadAWS(ctx, cfg.AWS)

	// Secrets
	if config.NeedsSecrets(cfg) {
		if awsErr != nil {
			return awsErr
		}
		sm := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
			o.BaseEndpoint = endpointOf(cfg)
		})
		if err := config.ResolveSecrets(ctx, cfg, sm); err != nil {
			return err
		}
	} else if err := config.ResolveSecrets(ctx, cfg, nil); err != nil {
		return err
	}

	// Telemetry
	tel, err := telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}

	// Persistence
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := newArtifactStore(cfg.Artifacts, func() (artifact.S3API, error) {
		if awsErr != nil {
			return nil, awsErr
		}
		return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = endpointOf(cfg)
			o.UsePathStyle = o.BaseEndpoint != nil
		}), nil
	})
	if err != nil {
		st.stop(ctx)
		return fmt.Errorf("creating artifact store: %w", err)
	}

	// Components
	acc, err := learning.Open(ctx, st.patterns, logger)
	if err != nil {
		st.stop(ctx)
		return fmt.Errorf("loading learning patterns: %w", err)
	}
	hist, err := history.Open(ctx, st.history)
	if err != nil {
		st.stop(ctx)
		return fmt.Errorf("loading history: %w", err)
	}
	dispatcher, err := alert.NewDispatcher(cfg.Alerting, logger)
	if err != nil {
		st.stop(ctx)
		return fmt.Errorf("creating alert dispatcher: %w", err)
	}
	mon := monitor.New(cfg.Monitor.Thresholds)
	optOpts := []optimizer.Option{optimizer.WithTarget(mon.Thresholds().Target)}
	if cfg.Optimization.HistorySize > 0 {
		optOpts = append(optOpts, optimizer.WithHistorySize(cfg.Optimization.HistorySize))
	}
	opt := optimizer.New(acc, logger, optOpts...)
	gov := governor.New(store, cfg.Deployment, logger)

	// Metric sources
	var (
		sources  []metricsource.Source
		consumer metricsource.Consumer
		influx   *metricsource.InfluxSource
	)
	switch cfg.MetricSource.Type {
	case "influxdb":
		influx, err = metricsource.NewInfluxSource(*cfg.MetricSource.InfluxDB, logger)
		if err != nil {
			st.stop(ctx)
			return fmt.Errorf("creating influxdb source: %w", err)
		}
		sources = append(sources, influx)
	case "sqs":
		if awsErr != nil {
			st.stop(ctx)
			return awsErr
		}
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			o.BaseEndpoint = endpointOf(cfg)
		})
		consumer, err = metricsource.NewSQSSource(ctx, *cfg.MetricSource.SQS, logger, metricsource.WithSQSClient(client))
		if err != nil {
			st.stop(ctx)
			return fmt.Errorf("creating sqs source: %w", err)
		}
	}

	orch := orchestrator.New(orchestrator.Components{
		Monitor:   mon,
		Alerts:    dispatcher,
		Learning:  acc,
		Optimizer: opt,
		Governor:  gov,
		History:   hist,
		Artifacts: store,
		Sources:   sources,
	}, orchestrator.ConfigFrom(cfg), logger)

	srvCfg := types.ServerConfig{Addr: ":3000"}
	if cfg.Server != nil {
		srvCfg = *cfg.Server
		if srvCfg.Addr == "" {
			srvCfg.Addr = ":3000"
		}
	}
	srv := server.New(srvCfg, orch, tel.MetricsHandler(), logger)

	// Run
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	orch.Start(runCtx)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx, func(s types.QualitySample) bool { return orch.Ingest(s) })
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
	case <-gctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("server shutdown: %w", err))
	}
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		runErr = errors.Join(runErr, err)
	}
	orch.Stop(shutdownCtx)
	if influx != nil {
		influx.Close()
	}
	st.stop(shutdownCtx)
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", "error", err)
	}
	if runErr != nil {
		return runErr
	}
	color.Green("Server stopped gracefully")
	return nil
}
