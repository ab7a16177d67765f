package estimators

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
)

// LevelSample is one supervised example for the level predictor.
type LevelSample struct {
	Features []float64
	Level    float64
}

// TrainOptions control stochastic gradient descent.
type TrainOptions struct {
	Epochs       int
	LearningRate float64
	Rand         *rand.Rand
}

func (o TrainOptions) withDefaults(epochs int, lr float64) TrainOptions {
	if o.Epochs <= 0 {
		o.Epochs = epochs
	}
	if o.LearningRate <= 0 {
		o.LearningRate = lr
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(1, 2))
	}
	return o
}

// LinearRegressor predicts a level as a weighted sum of the standardized
// inputs plus a bias.
type LinearRegressor struct {
	Weights []float64     `yaml:"weights"`
	Bias    float64       `yaml:"bias"`
	Input   *Standardizer `yaml:"input,omitempty"`
}

// NewLinearRegressor returns a zero model over n inputs.
func NewLinearRegressor(n int) *LinearRegressor {
	return &LinearRegressor{Weights: make([]float64, n)}
}

// PredictLevel implements LevelPredictor.
func (m *LinearRegressor) PredictLevel(ctx context.Context, vector []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := checkVector(vector, len(m.Weights)); err != nil {
		return 0, err
	}
	return m.predict(m.Input.Apply(vector)), nil
}

func (m *LinearRegressor) predict(x []float64) float64 {
	y := m.Bias
	for i, w := range m.Weights {
		y += w * x[i]
	}
	return y
}

// Train fits the model with per-sample SGD on squared error and returns the
// final mean squared error. The input standardizer is refitted from samples.
func (m *LinearRegressor) Train(samples []LevelSample, opts TrainOptions) (float64, error) {
	if len(samples) == 0 {
		return 0, errors.New("linear regressor: no training samples")
	}
	rows := make([][]float64, len(samples))
	for i, s := range samples {
		if err := checkVector(s.Features, len(m.Weights)); err != nil {
			return 0, fmt.Errorf("sample %d: %w", i, err)
		}
		if !allFinite(s.Features) || !finite(s.Level) {
			return 0, fmt.Errorf("sample %d: non-finite value", i)
		}
		rows[i] = s.Features
	}
	opts = opts.withDefaults(200, 0.01)
	m.Input = FitStandardizer(rows)

	xs := make([][]float64, len(samples))
	for i, row := range rows {
		xs[i] = m.Input.Apply(row)
	}

	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}
	for range opts.Epochs {
		opts.Rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			x := xs[idx]
			err := m.predict(x) - samples[idx].Level
			for i := range m.Weights {
				m.Weights[i] -= opts.LearningRate * err * x[i]
			}
			m.Bias -= opts.LearningRate * err
		}
	}

	var mse float64
	for i, x := range xs {
		d := m.predict(x) - samples[i].Level
		mse += d * d
	}
	return mse / float64(len(xs)), nil
}

func (m *LinearRegressor) validate(width int) error {
	if len(m.Weights) != width {
		return fmt.Errorf("linear regressor: want %d weights, got %d", width, len(m.Weights))
	}
	if !allFinite(m.Weights) || !finite(m.Bias) {
		return errors.New("linear regressor: non-finite parameter")
	}
	return m.Input.validate(width)
}
