// Package main implements the policy-trainer CLI for improving a location's
// alert policy offline.
//
// The trainer starts from a policy document (-in), the location's stored
// snapshot, or an empty policy, runs Monte Carlo self-play, and scores the
// result against a labeled YAML test set (-eval). A policy that misses the
// accuracy or false-negative gate is neither written nor saved and the
// process exits with status 2.
//
// Usage:
//
//	go run ./cmd/policy-trainer -location=river-1 -episodes=5000 -eval=testdata/eval.yaml -out=policy.json
//	go run ./cmd/policy-trainer -location=river-1 -episodes=5000 -eval=eval.yaml -save
//	go run ./cmd/policy-trainer -location=river-1 -episodes=0 -train-model=model.yaml
//
// DATABASE_URL (environment or .env) enables loading the stored snapshot,
// -save, and -train-model, which fits the estimator ensemble on the
// location's stored readings. -save is rejected when another process stored
// a newer snapshot while the trainer ran; rerun to train on top of it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"floodguard/internal/app"
	"floodguard/internal/config"
	"floodguard/internal/estimators"
	"floodguard/internal/features"
	"floodguard/internal/policy"
	"floodguard/internal/types"
)

// errGateFailed marks a trained policy that missed the regression gate.
var errGateFailed = errors.New("policy failed the evaluation gate")

// Exit codes.
const (
	exitError      = 1
	exitGateFailed = 2
)

// defaultHistory is how far back readings are loaded for -train-model.
const defaultHistory = 30 * 24 * time.Hour

// options are the parsed command-line flags.
type options struct {
	location    string
	episodes    int
	evalPath    string
	minAccuracy float64
	maxFNR      float64
	inPath      string
	outPath     string
	seed        uint64
	save        bool
	modelPath   string
	history     time.Duration
}

// PolicyStore loads and saves policy snapshots. Mirrors
// db.PolicySnapshotRepository.
type PolicyStore interface {
	LoadPolicy(ctx context.Context, locationID string) (types.PolicySnapshot, error)
	SavePolicy(ctx context.Context, locationID string, document []byte, expected int64) (int64, error)
}

// ReadingSource lists stored readings. Mirrors db.ReadingRepository.
type ReadingSource interface {
	Since(ctx context.Context, locationID string, since time.Time) ([]types.Reading, error)
}

// trainer runs one training job. policies and readings are nil without a
// database.
type trainer struct {
	cfg      *config.Config
	policies PolicyStore
	readings ReadingSource
	logger   *slog.Logger
	now      func() time.Time
}

// report is written to stdout as YAML.
type report struct {
	Location   string             `yaml:"location"`
	Source     string             `yaml:"source"`
	Simulation policy.Simulation  `yaml:"simulation"`
	States     int                `yaml:"states"`
	Baseline   *policy.Evaluation `yaml:"baseline,omitempty"`
	Evaluation *policy.Evaluation `yaml:"evaluation,omitempty"`
	Gate       *policy.Gate       `yaml:"gate,omitempty"`
	Passed     *bool              `yaml:"passed,omitempty"`
	Output     string             `yaml:"output,omitempty"`
	Saved      bool               `yaml:"saved"`
	Version    int64              `yaml:"version,omitempty"`
	Model      *modelSummary      `yaml:"model,omitempty"`
}

type modelSummary struct {
	Path       string `yaml:"path"`
	Samples    int    `yaml:"samples"`
	Classifier bool   `yaml:"classifier"`
}

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdout, os.Stderr))
}

func realMain(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "error: loading configuration: %v\n", err)
		return exitError
	}

	opts, err := parseFlags(args, cfg, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	t := &trainer{cfg: cfg, logger: logger, now: time.Now}
	if cfg.HasDatabase() {
		pool, err := app.OpenDatabase(ctx, cfg.Database)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return exitError
		}
		defer pool.Close()
		stores := app.NewStores(pool)
		t.policies = stores.Policies
		t.readings = stores.Readings
	}

	rep, err := t.run(ctx, opts)
	if out, merr := yaml.Marshal(rep); merr == nil {
		_, _ = stdout.Write(out)
	}
	switch {
	case errors.Is(err, errGateFailed):
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitGateFailed
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	return 0
}

// parseFlags parses args. Gate thresholds and the seed default to the
// configured values.
func parseFlags(args []string, cfg *config.Config, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("policy-trainer", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.location, "location", "", "Location ID to train (required)")
	fs.IntVar(&opts.episodes, "episodes", 1000, "Monte Carlo episodes to run")
	fs.StringVar(&opts.evalPath, "eval", "", "YAML file of labeled evaluation samples")
	fs.Float64Var(&opts.minAccuracy, "min-accuracy", cfg.Policy.MinAccuracy, "Minimum evaluation accuracy")
	fs.Float64Var(&opts.maxFNR, "max-fnr", cfg.Policy.MaxFalseNegativeRate, "Maximum evaluation false-negative rate")
	fs.StringVar(&opts.inPath, "in", "", "Policy document to start from (default: stored snapshot, else empty)")
	fs.StringVar(&opts.outPath, "out", "", "Write the trained policy document to this file")
	fs.Uint64Var(&opts.seed, "seed", cfg.Policy.Seed, "Random seed; 0 is nondeterministic")
	fs.BoolVar(&opts.save, "save", false, "Save the trained policy as the location's snapshot (requires DATABASE_URL)")
	fs.StringVar(&opts.modelPath, "train-model", "", "Fit the estimator model on stored readings and write it here (requires DATABASE_URL)")
	fs.DurationVar(&opts.history, "history", defaultHistory, "Reading history used by -train-model")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: policy-trainer [flags]\n\n")
		fmt.Fprintf(stderr, "Improve a location's alert policy offline and gate it against a test set.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.location == "" {
		return options{}, errors.New("-location is required")
	}
	if opts.episodes < 0 || opts.episodes > cfg.Policy.MaxSimulationEpisodes {
		return options{}, fmt.Errorf("-episodes must be between 0 and %d", cfg.Policy.MaxSimulationEpisodes)
	}
	if opts.minAccuracy < 0 || opts.minAccuracy > 1 || opts.maxFNR < 0 || opts.maxFNR > 1 {
		return options{}, errors.New("-min-accuracy and -max-fnr must be within [0, 1]")
	}
	if opts.history <= 0 {
		return options{}, errors.New("-history must be positive")
	}
	return opts, nil
}

// run trains, gates, and persists. The report is returned even on failure
// so the caller can print what was reached.
func (t *trainer) run(ctx context.Context, opts options) (report, error) {
	rep := report{Location: opts.location}
	logger := t.logger.With("location_id", opts.location)

	if (opts.save || opts.modelPath != "") && t.policies == nil {
		return rep, errors.New("-save and -train-model require DATABASE_URL")
	}

	var samples []policy.Sample
	if opts.evalPath != "" {
		var err error
		if samples, err = loadSamples(opts.evalPath); err != nil {
			return rep, err
		}
	}

	p, source, base, err := t.startingPolicy(ctx, opts)
	if err != nil {
		return rep, err
	}
	rep.Source = source
	baseline := p.Clone()

	if opts.episodes > 0 {
		logger.Info("running Monte Carlo", "episodes", opts.episodes, "source", source)
		sim, err := p.RunMonteCarlo(ctx, opts.episodes)
		rep.Simulation = sim
		rep.States = p.Len()
		if err != nil {
			return rep, fmt.Errorf("simulation interrupted after %d episodes: %w", sim.Episodes, err)
		}
	}
	rep.States = p.Len()

	if samples != nil {
		gate := policy.Gate{MinAccuracy: opts.minAccuracy, MaxFalseNegativeRate: opts.maxFNR}
		before, after, err := evaluatePair(baseline, p, samples)
		if err != nil {
			return rep, err
		}
		passed := after.Passes(gate)
		rep.Gate, rep.Passed = &gate, &passed
		if source != sourceEmpty {
			rep.Baseline = &before
		}
		rep.Evaluation = &after
		logger.Info("policy evaluated",
			"accuracy", after.Accuracy,
			"false_negative_rate", after.FalseNegativeRate,
			"passed", passed,
		)
		if !passed {
			return rep, fmt.Errorf("%w: accuracy %.3f (min %.3f), false-negative rate %.3f (max %.3f)",
				errGateFailed, after.Accuracy, gate.MinAccuracy, after.FalseNegativeRate, gate.MaxFalseNegativeRate)
		}
	}

	doc, err := p.Export()
	if err != nil {
		return rep, fmt.Errorf("exporting policy: %w", err)
	}
	if opts.outPath != "" {
		if err := os.WriteFile(opts.outPath, doc, 0o644); err != nil {
			return rep, fmt.Errorf("writing policy: %w", err)
		}
		rep.Output = opts.outPath
	}
	if opts.save {
		version, err := t.policies.SavePolicy(ctx, opts.location, doc, base)
		if err != nil {
			return rep, fmt.Errorf("saving policy snapshot over version %d: %w", base, err)
		}
		rep.Saved = true
		rep.Version = version
		logger.Info("policy snapshot saved", "states", p.Len(), "version", version)
	}

	if opts.modelPath != "" {
		summary, err := t.trainModel(ctx, opts)
		if err != nil {
			return rep, err
		}
		rep.Model = summary
	}
	return rep, nil
}

// Policy sources reported in the summary.
const (
	sourceFile     = "file"
	sourceSnapshot = "snapshot"
	sourceEmpty    = "empty"
)

// startingPolicy also returns the stored version the result will be saved
// over.
func (t *trainer) startingPolicy(ctx context.Context, opts options) (*policy.Policy, string, int64, error) {
	popts := []policy.Option{policy.WithHyperparameters(app.Hyperparameters(t.cfg.Policy))}
	if opts.seed != 0 {
		popts = append(popts, policy.WithSeed(opts.seed))
	}
	p := policy.New(popts...)

	var base int64
	if t.policies != nil {
		snap, err := t.policies.LoadPolicy(ctx, opts.location)
		if err != nil {
			return nil, "", 0, fmt.Errorf("loading policy snapshot: %w", err)
		}
		base = snap.Version
		if opts.inPath == "" && snap.Document != nil {
			if err := p.Import(snap.Document); err != nil {
				return nil, "", 0, fmt.Errorf("importing stored snapshot: %w", err)
			}
			return p, sourceSnapshot, base, nil
		}
	}

	if opts.inPath != "" {
		data, err := os.ReadFile(opts.inPath)
		if err != nil {
			return nil, "", 0, fmt.Errorf("reading policy: %w", err)
		}
		if err := p.Import(data); err != nil {
			return nil, "", 0, fmt.Errorf("importing %s: %w", opts.inPath, err)
		}
		return p, sourceFile, base, nil
	}
	return p, sourceEmpty, base, nil
}

// evaluatePair scores the starting and trained policies concurrently. Both
// are private to this run, so each goroutine owns one.
func evaluatePair(baseline, trained *policy.Policy, samples []policy.Sample) (policy.Evaluation, policy.Evaluation, error) {
	var before, after policy.Evaluation
	var g errgroup.Group
	g.Go(func() error {
		var err error
		before, err = baseline.Evaluate(samples)
		return err
	})
	g.Go(func() error {
		var err error
		after, err = trained.Clone().Evaluate(samples)
		return err
	})
	if err := g.Wait(); err != nil {
		return policy.Evaluation{}, policy.Evaluation{}, fmt.Errorf("evaluating policy: %w", err)
	}
	return before, after, nil
}

// trainModel fits the estimator model on the location's stored readings.
func (t *trainer) trainModel(ctx context.Context, opts options) (*modelSummary, error) {
	now := t.now().UTC()
	readings, err := t.readings.Since(ctx, opts.location, now.Add(-opts.history))
	if err != nil {
		return nil, fmt.Errorf("loading readings: %w", err)
	}

	extractor := features.NewExtractor(app.EngineParams(t.cfg.Engine).Features)
	set, err := buildTrainingSet(extractor, readings, trainingHorizon)
	if err != nil {
		return nil, err
	}

	seed := opts.seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	m, err := estimators.TrainModel(set.vectors, set.levels, set.classes,
		estimators.TrainOptions{Rand: rand.New(rand.NewPCG(seed, seed))}, now)
	if err != nil {
		return nil, fmt.Errorf("training model: %w", err)
	}
	if err := estimators.SaveModel(opts.modelPath, m); err != nil {
		return nil, err
	}
	t.logger.Info("estimator model trained", "path", opts.modelPath, "samples", m.Samples)
	return &modelSummary{Path: opts.modelPath, Samples: m.Samples, Classifier: m.Classifier != nil}, nil
}
