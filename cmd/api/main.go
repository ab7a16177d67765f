// Package main is the entry point for the floodguard API server.
//
// It loads the configuration, connects the optional collaborators (Postgres
// persistence, the SQS assessment and outcome queues, the metrics backend,
// the estimator ensemble), builds the per-location supervisor, mounts the
// location routes on the core chassis, and serves HTTP until SIGINT or
// SIGTERM.
//
// Every collaborator is optional. With none configured the API runs fully in
// memory, which is the local development mode.
package main

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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"floodguard/internal/api/handlers"
	"floodguard/internal/app"
	"floodguard/internal/assessment"
	"floodguard/internal/config"
	"floodguard/internal/core"
	"floodguard/internal/metrics"
	"floodguard/internal/monitor"
	"floodguard/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// sqsClient is the subset of *sqs.Client the API uses: publishing plus the
// attribute lookup behind the queue health probes.
type sqsClient interface {
	queue.SQSSender
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// dependencies are the external collaborators resolved at startup. Nil
// fields are simply not wired.
type dependencies struct {
	stores     *app.Stores
	pingDB     func(ctx context.Context) error
	sqs        sqsClient
	cloudwatch metrics.CloudWatchClient
	predictor  monitor.Predictor
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("floodguard API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	var deps dependencies

	if cfg.HasDatabase() {
		pool, err := app.OpenDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		stores := app.NewStores(pool)
		deps.stores = &stores
		deps.pingDB = pool.Ping
	} else {
		logger.Warn("DATABASE_URL not set; policies and readings are kept in memory only")
	}

	if needsAWS(cfg) {
		awsCfg, err := app.LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return err
		}
		deps.sqs = sqs.NewFromConfig(awsCfg)
		if cfg.Observability.MetricsBackend == "cloudwatch" {
			deps.cloudwatch = cloudwatch.NewFromConfig(awsCfg)
		}
	}

	ens, err := app.LoadEnsemble(cfg.Estimators, logger)
	if err != nil {
		return err
	}
	if ens != nil {
		deps.predictor = ens
		logger.Info("estimator ensemble loaded", "model", cfg.Estimators.ModelPath)
	}

	srv, supervisor, err := buildServer(cfg, logger, deps)
	if err != nil {
		return err
	}
	defer supervisor.Close()

	return runHTTPServer(srv, cfg, logger)
}

func needsAWS(cfg *config.Config) bool {
	return cfg.AWS.AssessmentQueue != "" ||
		cfg.AWS.OutcomeQueue != "" ||
		cfg.Observability.MetricsBackend == "cloudwatch"
}

// buildServer assembles the supervisor and the HTTP server over deps and
// mounts every route.
func buildServer(cfg *config.Config, logger *slog.Logger, deps dependencies) (*core.Server, *monitor.Supervisor, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating server: %w", err)
	}

	monitorOpts := []monitor.Option{monitor.WithLogger(logger)}
	var handlerOpts []handlers.Option

	switch cfg.Observability.MetricsBackend {
	case "cloudwatch":
		if deps.cloudwatch == nil {
			return nil, nil, errors.New("cloudwatch metrics backend selected without a CloudWatch client")
		}
		rec := metrics.NewCloudWatchRecorder(deps.cloudwatch, cfg.Observability.MetricNamespace, logger)
		srv.Metrics = rec
		monitorOpts = append(monitorOpts, monitor.WithMetrics(rec))
	case "prometheus":
		rec := metrics.NewPrometheusRecorder(cfg.Observability.MetricNamespace)
		srv.Metrics = rec
		srv.MetricsHandler = rec.Handler()
		monitorOpts = append(monitorOpts, monitor.WithMetrics(rec))
	}

	if deps.predictor != nil {
		monitorOpts = append(monitorOpts, monitor.WithPredictor(deps.predictor))
	}

	if deps.stores != nil {
		monitorOpts = append(monitorOpts, deps.stores.SupervisorOptions()...)
		handlerOpts = append(handlerOpts,
			handlers.WithReadingStore(deps.stores.Readings, cfg.Engine.ReadingLookback),
			handlers.WithAssessmentReader(deps.stores.Assessments),
		)
	}
	if deps.pingDB != nil {
		srv.HealthProbes = append(srv.HealthProbes, core.HealthProbeFunc{ProbeName: "database", Fn: deps.pingDB})
	}

	if deps.sqs != nil {
		if url := cfg.AWS.AssessmentQueue; url != "" {
			monitorOpts = append(monitorOpts, monitor.WithPublisher(queue.NewAssessmentPublisher(deps.sqs, url, logger)))
			srv.HealthProbes = append(srv.HealthProbes, queueProbe("assessment_queue", deps.sqs, url))
		}
		if url := cfg.AWS.OutcomeQueue; url != "" {
			handlerOpts = append(handlerOpts, handlers.WithOutcomeQueue(queue.NewOutcomePublisher(deps.sqs, url, logger)))
			srv.HealthProbes = append(srv.HealthProbes, queueProbe("outcome_queue", deps.sqs, url))
		}
	}

	engine := assessment.NewEngine(app.EngineParams(cfg.Engine), nil)
	supervisor := monitor.NewSupervisor(engine, app.SupervisorConfig(cfg), monitorOpts...)

	locations := handlers.NewLocationHandler(supervisor, srv.Validator, logger, srv.RequireAdminKey, handlerOpts...)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, locations.RegisterRoutes)

	srv.MountRoutes()
	return srv, supervisor, nil
}

// queueProbe reports a queue healthy when its attributes can be read.
func queueProbe(name string, client sqsClient, url string) core.HealthProbe {
	return core.HealthProbeFunc{
		ProbeName: name,
		Fn: func(ctx context.Context) error {
			_, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
				QueueUrl:       aws.String(url),
				AttributeNames: []sqsTypes.QueueAttributeName{sqsTypes.QueueAttributeNameApproximateNumberOfMessages},
			})
			return err
		},
	}
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown", "timeout", cfg.Server.ShutdownTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
