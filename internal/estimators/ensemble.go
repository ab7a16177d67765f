package estimators

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"floodguard/internal/types"
)

// Ensemble defaults.
const (
	DefaultTimeout         = 50 * time.Millisecond
	DefaultBreakerFailures = 3
	DefaultBreakerCooldown = 30 * time.Second
)

// EnsembleConfig bounds the fan-out.
type EnsembleConfig struct {
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Ensemble invokes the configured estimators in parallel under a deadline.
// Estimators that fail, miss the deadline, or sit behind an open breaker are
// reported as missing signals; Predict never fails.
type Ensemble struct {
	predictor  LevelPredictor
	classifier RiskClassifier
	timeout    time.Duration

	levelBreaker *gobreaker.CircuitBreaker[float64]
	riskBreaker  *gobreaker.CircuitBreaker[Classification]
	logger       *slog.Logger
}

// NewEnsemble wires the estimators. Either may be nil, in which case that
// signal is simply not produced.
func NewEnsemble(predictor LevelPredictor, classifier RiskClassifier, cfg EnsembleConfig, logger *slog.Logger) *Ensemble {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = DefaultBreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = DefaultBreakerCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ensemble{
		predictor:    predictor,
		classifier:   classifier,
		timeout:      cfg.Timeout,
		levelBreaker: newBreaker[float64](SignalLevel, cfg, logger),
		riskBreaker:  newBreaker[Classification](SignalRisk, cfg, logger),
		logger:       logger,
	}
}

// NewEnsembleFromModel wires whichever estimators the model carries.
func NewEnsembleFromModel(m *Model, cfg EnsembleConfig, logger *slog.Logger) *Ensemble {
	var (
		p LevelPredictor
		c RiskClassifier
	)
	if m.Regressor != nil {
		p = m.Regressor
	}
	if m.Classifier != nil {
		c = m.Classifier
	}
	return NewEnsemble(p, c, cfg, logger)
}

func newBreaker[T any](name string, cfg EnsembleConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("estimator breaker state change", "estimator", name, "from", from.String(), "to", to.String())
		},
	})
}

// Predict runs the estimators on vector. Results arriving after the deadline
// are discarded.
func (e *Ensemble) Predict(ctx context.Context, vector []float64) types.Prediction {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		level *float64
		class *Classification
	)

	g, gCtx := errgroup.WithContext(ctx)
	if e.predictor != nil {
		g.Go(func() error {
			v, err := e.levelBreaker.Execute(func() (float64, error) {
				return e.predictor.PredictLevel(gCtx, vector)
			})
			if err != nil {
				e.logFailure(SignalLevel, err)
				return nil
			}
			if !finite(v) {
				return nil
			}
			mu.Lock()
			level = &v
			mu.Unlock()
			return nil
		})
	}
	if e.classifier != nil {
		g.Go(func() error {
			c, err := e.riskBreaker.Execute(func() (Classification, error) {
				return e.classifier.Classify(gCtx, vector)
			})
			if err != nil {
				e.logFailure(SignalRisk, err)
				return nil
			}
			mu.Lock()
			class = &c
			mu.Unlock()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	var p types.Prediction
	if e.predictor != nil {
		if level != nil {
			v := *level
			p.Level = &v
		} else {
			p.Missing = append(p.Missing, SignalLevel)
		}
	}
	if e.classifier != nil {
		if class != nil {
			p.Risk = class.Level
			p.RiskConfidence = class.Confidence
		} else {
			p.Missing = append(p.Missing, SignalRisk)
		}
	}
	return p
}

func (e *Ensemble) logFailure(signal string, err error) {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		e.logger.Debug("estimator skipped by breaker", "estimator", signal)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		e.logger.Debug("estimator missed deadline", "estimator", signal)
	default:
		e.logger.Warn("estimator failed", "estimator", signal, "error", err)
	}
}
