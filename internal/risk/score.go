// Package risk implements the weighted risk scoring function, confidence,
// time-to-impact estimation, the per-location accuracy log, and the alert
// tags and recommendations derived from a score.
package risk

import (
	"math"
	"time"

	"floodguard/internal/types"
)

// Factor weights. They sum to 1.0 excluding the historical-accuracy penalty,
// which is applied to the complement of accuracy.
const (
	WeightTrend          = 0.25
	WeightForecast       = 0.20
	WeightRainfall       = 0.15
	WeightSoil           = 0.10
	WeightHistorical     = -0.05
	WeightUrbanDensity   = 0.15
	WeightInfrastructure = 0.20
)

// Normalization of raw factors to 0–100 sub-scores.
const (
	trendScalePerUnit   = 20.0 // 5 units/hour saturates the trend sub-score
	rainfallSaturatesIn = 4.0
)

// Level breakpoints (inclusive lower bounds).
const (
	ThresholdExtreme  = 80.0
	ThresholdHigh     = 60.0
	ThresholdModerate = 40.0
	ThresholdLow      = 20.0
)

// SubScores are the normalized 0–100 inputs to the weighted sum.
type SubScores struct {
	Trend          float64
	Forecast       float64
	Rainfall       float64
	Soil           float64
	Historical     float64
	UrbanDensity   float64
	Infrastructure float64
}

// Normalize converts raw factors into sub-scores. Falling water contributes
// nothing to the trend sub-score.
func Normalize(f types.RiskFactors) SubScores {
	return SubScores{
		Trend:          capped(math.Max(0, f.WaterLevelTrend)*trendScalePerUnit, 100),
		Forecast:       unit(f.ForecastProbability) * 100,
		Rainfall:       capped(math.Max(0, f.RainfallNowcast)/rainfallSaturatesIn*100, 100),
		Soil:           unit(f.SoilSaturation) * 100,
		Historical:     (1 - unit(f.HistoricalAccuracy)) * 100,
		UrbanDensity:   unit(f.UrbanDensity) * 100,
		Infrastructure: unit(f.InfrastructureCriticality) * 100,
	}
}

// Score combines the factors into a 0–100 score and its level.
func Score(f types.RiskFactors) (float64, types.RiskLevel) {
	s := Normalize(f)
	score := s.Trend*WeightTrend +
		s.Forecast*WeightForecast +
		s.Rainfall*WeightRainfall +
		s.Soil*WeightSoil +
		s.Historical*WeightHistorical +
		s.UrbanDensity*WeightUrbanDensity +
		s.Infrastructure*WeightInfrastructure

	if math.IsNaN(score) {
		score = 0
	}
	score = math.Max(0, math.Min(100, score))
	return score, Classify(score)
}

// Classify maps a score to its level using fixed breakpoints.
func Classify(score float64) types.RiskLevel {
	switch {
	case score >= ThresholdExtreme:
		return types.RiskExtreme
	case score >= ThresholdHigh:
		return types.RiskHigh
	case score >= ThresholdModerate:
		return types.RiskModerate
	case score >= ThresholdLow:
		return types.RiskLow
	default:
		return types.RiskNone
	}
}

// LowerBound returns the inclusive score breakpoint of a level.
func LowerBound(level types.RiskLevel) float64 {
	switch level {
	case types.RiskExtreme:
		return ThresholdExtreme
	case types.RiskHigh:
		return ThresholdHigh
	case types.RiskModerate:
		return ThresholdModerate
	case types.RiskLow:
		return ThresholdLow
	default:
		return 0
	}
}

// DefaultFreshness is how recent the newest reading must be to earn the
// freshness confidence bonus.
const DefaultFreshness = 30 * time.Minute

// Confidence reflects how much data backs an assessment.
func Confidence(readingCount int, historicalAccuracy float64, newest *time.Time, now time.Time, freshness time.Duration) float64 {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	c := 0.5
	if readingCount > 10 {
		c += 0.1
	}
	if readingCount > 50 {
		c += 0.1
	}
	c += 0.2 * unit(historicalAccuracy)
	if newest != nil {
		if age := now.Sub(*newest); age >= 0 && age < freshness {
			c += 0.1
		}
	}
	return math.Max(0, math.Min(1, c))
}

func unit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func capped(v, limit float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, limit)
}
