// Package main is the entrypoint for the Outcome Worker Lambda function.
//
// The worker consumes ground-truth outcome messages from the FIFO outcome
// queue and applies them to each location's alert policy.
//
// Cold Start (main):
//  1. Load configuration and initialize the structured logger.
//  2. Open the database pool and apply the schema.
//  3. Build the metrics recorder (CloudWatch when configured).
//  4. Register the handler and call lambda.Start.
//
// Per batch:
//
//	1. Decode every record; undecodable records are reported as failures.
//	2. Group records by location, keeping queue order within a location.
//	3. For each location, load the latest policy snapshot, apply the
//	   outcomes in order, and save one snapshot.
//	4. Report failed records through partial batch responses so SQS
//	   redelivers only those.
//
// Each batch runs on a fresh supervisor, so a snapshot written elsewhere
// (policy import, simulation) is always the starting point. If one is
// written while the batch runs, the batch's save is rejected as stale and
// the location's records are redelivered.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"floodguard/internal/app"
	"floodguard/internal/assessment"
	"floodguard/internal/config"
	"floodguard/internal/metrics"
	"floodguard/internal/monitor"
	"floodguard/internal/queue"
	"floodguard/internal/types"
)

// OutcomeApplier is the part of the supervisor the worker drives.
type OutcomeApplier interface {
	RecordOutcome(ctx context.Context, locationID string, o monitor.OutcomeReport) (monitor.OutcomeResult, error)
	Checkpoint(ctx context.Context, locationID string) error
	Close()
}

// Handler holds the dependencies for the outcome worker Lambda handler.
type Handler struct {
	// newApplier builds the supervisor for one batch.
	newApplier func() OutcomeApplier
	logger     *slog.Logger
}

// pendingOutcome is a decoded record awaiting application.
type pendingOutcome struct {
	messageID string
	msg       queue.OutcomeMessage
}

// Handle applies an SQS batch of outcome messages.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}
	fail := func(messageID string) {
		response.BatchItemFailures = append(response.BatchItemFailures,
			events.SQSBatchItemFailure{ItemIdentifier: messageID},
		)
	}

	var order []string
	byLocation := make(map[string][]pendingOutcome)
	for _, record := range sqsEvent.Records {
		msg, err := queue.DecodeOutcome(record.Body)
		if err != nil {
			h.logger.Error("failed to decode outcome message",
				"message_id", record.MessageId,
				"error", err,
			)
			fail(record.MessageId)
			continue
		}
		if _, seen := byLocation[msg.LocationID]; !seen {
			order = append(order, msg.LocationID)
		}
		byLocation[msg.LocationID] = append(byLocation[msg.LocationID], pendingOutcome{messageID: record.MessageId, msg: msg})
	}
	if len(order) == 0 {
		return response, nil
	}

	applier := h.newApplier()
	defer applier.Close()

	for _, locationID := range order {
		for _, id := range h.applyLocation(ctx, applier, locationID, byLocation[locationID]) {
			fail(id)
		}
	}

	h.logger.Info("outcome batch processed",
		"records", len(sqsEvent.Records),
		"locations", len(order),
		"failures", len(response.BatchItemFailures),
	)
	return response, nil
}

// applyLocation applies one location's outcomes in order and returns the
// message IDs to redeliver. After the first failure the remaining outcomes
// are not applied, so redelivery keeps their order. When the snapshot cannot
// be saved, or another writer stored a newer version first, every outcome is
// redelivered; the next batch starts again from the stored snapshot.
func (h *Handler) applyLocation(ctx context.Context, applier OutcomeApplier, locationID string, pending []pendingOutcome) []string {
	logger := h.logger.With("location_id", locationID)

	applied := 0
	var failed []string
	for i, p := range pending {
		res, err := applier.RecordOutcome(ctx, locationID, p.msg.Report)
		if err != nil {
			logger.Error("failed to apply outcome",
				"message_id", p.messageID,
				"outcome_id", p.msg.ID,
				"error", err,
			)
			if isStale(err) {
				return messageIDs(pending)
			}
			for _, rest := range pending[i:] {
				failed = append(failed, rest.messageID)
			}
			break
		}
		applied++
		logger.Debug("outcome applied",
			"outcome_id", p.msg.ID,
			"action", p.msg.Report.Action,
			"actual_state", p.msg.Report.Actual,
			"reward", res.Reward,
		)
	}
	if applied == 0 {
		return failed
	}

	if err := applier.Checkpoint(ctx, locationID); err != nil {
		logger.Error("failed to save policy snapshot", "applied", applied, "error", err)
		return messageIDs(pending)
	}
	return failed
}

func messageIDs(pending []pendingOutcome) []string {
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.messageID)
	}
	return ids
}

func isStale(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictStalePolicy
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("Outcome Worker Lambda initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	if !cfg.HasDatabase() {
		return errors.New("DATABASE_URL is required: outcomes would not survive the invocation")
	}

	ctx := context.Background()
	pool, err := app.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	stores := app.NewStores(pool)

	var recorder metrics.Recorder = metrics.NopRecorder{}
	if cfg.Observability.MetricsBackend == "cloudwatch" {
		awsCfg, err := app.LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return err
		}
		recorder = metrics.NewCloudWatchRecorder(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
	}

	engine := assessment.NewEngine(app.EngineParams(cfg.Engine), nil)
	supervisorCfg := app.SupervisorConfig(cfg)
	// Snapshots are saved once per location per batch by the handler, and
	// outcomes it could not checkpoint are redelivered rather than saved late.
	supervisorCfg.SnapshotEvery = math.MaxInt
	supervisorCfg.DropUnsavedOnClose = true

	handler := &Handler{
		newApplier: func() OutcomeApplier {
			opts := append(stores.SupervisorOptions(),
				monitor.WithMetrics(recorder),
				monitor.WithLogger(logger),
			)
			return monitor.NewSupervisor(engine, supervisorCfg, opts...)
		},
		logger: logger,
	}

	logger.Info("Outcome Worker Lambda initialized",
		"outcome_queue", cfg.AWS.OutcomeQueue,
		"metrics_backend", cfg.Observability.MetricsBackend,
	)

	// Local mode: read an SQS event from stdin instead of starting the Lambda
	// runtime.
	if cfg.Environment == "local" {
		return runLocal(ctx, handler, os.Stdin, os.Stdout, logger)
	}

	lambda.Start(handler.Handle)
	return nil
}

// runLocal feeds one JSON-encoded SQS event through the handler and writes
// the batch response.
func runLocal(ctx context.Context, h *Handler, in io.Reader, out io.Writer, logger *slog.Logger) error {
	logger.Info("APP_ENV=local: reading SQS event from stdin")
	var event events.SQSEvent
	if err := json.NewDecoder(in).Decode(&event); err != nil {
		return fmt.Errorf("decoding SQS event: %w", err)
	}
	resp, err := h.Handle(ctx, event)
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(resp)
}
