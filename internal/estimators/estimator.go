// Package estimators holds the predictive collaborators of the risk engine:
// a scalar water-level predictor and a risk-class classifier, both consuming
// the feature vector built by internal/features, plus the bounded-time
// ensemble that fans out to them.
package estimators

import (
	"context"
	"errors"
	"fmt"
	"math"

	"floodguard/internal/types"
)

// Signal names reported in types.Prediction.Missing.
const (
	SignalLevel = "level_predictor"
	SignalRisk  = "risk_classifier"
)

// ErrVectorSize is returned when an input vector does not match the
// estimator's input width.
var ErrVectorSize = errors.New("feature vector size mismatch")

// LevelPredictor predicts a water level from a feature vector.
type LevelPredictor interface {
	PredictLevel(ctx context.Context, vector []float64) (float64, error)
}

// RiskClassifier assigns one of the four non-none risk levels.
type RiskClassifier interface {
	Classify(ctx context.Context, vector []float64) (Classification, error)
}

// Classification is a classifier result on the low..extreme scale.
type Classification struct {
	Level      types.RiskLevel `json:"level"`
	Confidence float64         `json:"confidence"`
}

// Standardizer rescales each input to zero mean and unit variance using
// statistics fitted on training data.
type Standardizer struct {
	Mean  []float64 `yaml:"mean" json:"mean"`
	Scale []float64 `yaml:"scale" json:"scale"`
}

// FitStandardizer computes per-column statistics. Constant columns get a
// scale of 1 so they pass through centered.
func FitStandardizer(rows [][]float64) *Standardizer {
	if len(rows) == 0 {
		return nil
	}
	n := len(rows[0])
	s := &Standardizer{Mean: make([]float64, n), Scale: make([]float64, n)}
	for _, row := range rows {
		for i := range n {
			s.Mean[i] += row[i]
		}
	}
	for i := range n {
		s.Mean[i] /= float64(len(rows))
	}
	for _, row := range rows {
		for i := range n {
			d := row[i] - s.Mean[i]
			s.Scale[i] += d * d
		}
	}
	for i := range n {
		s.Scale[i] = math.Sqrt(s.Scale[i] / float64(len(rows)))
		if s.Scale[i] == 0 {
			s.Scale[i] = 1
		}
	}
	return s
}

// Apply returns a standardized copy of x. A nil Standardizer is the identity.
func (s *Standardizer) Apply(x []float64) []float64 {
	out := make([]float64, len(x))
	if s == nil {
		copy(out, x)
		return out
	}
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return out
}

func (s *Standardizer) validate(width int) error {
	if s == nil {
		return nil
	}
	if len(s.Mean) != width || len(s.Scale) != width {
		return fmt.Errorf("standardizer: want %d columns, got mean=%d scale=%d", width, len(s.Mean), len(s.Scale))
	}
	for i := range s.Scale {
		if !finite(s.Mean[i]) || !finite(s.Scale[i]) || s.Scale[i] <= 0 {
			return fmt.Errorf("standardizer: column %d is invalid", i)
		}
	}
	return nil
}

func checkVector(vector []float64, width int) error {
	if len(vector) != width {
		return fmt.Errorf("%w: want %d, got %d", ErrVectorSize, width, len(vector))
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(vs []float64) bool {
	for _, v := range vs {
		if !finite(v) {
			return false
		}
	}
	return true
}
