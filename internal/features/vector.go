package features

import (
	"math"
	"time"

	"floodguard/internal/types"
)

// VectorSize is the fixed length of the estimator feature vector.
const VectorSize = 8

// Feature vector layout.
const (
	FeatCurrentLevel = iota
	FeatPreviousLevel
	FeatMaxLevel
	FeatMeanLevel
	FeatMeanFlow
	FeatTrend
	FeatRainfall
	FeatSoil
)

// Vector builds the estimator input. Fewer than two readings yield zero
// derivative features: the previous level repeats the current one and the
// trend is zero.
func (e *Extractor) Vector(readings []types.Reading, forecast *types.ForecastSnapshot, now time.Time) []float64 {
	v := make([]float64, VectorSize)
	v[FeatRainfall] = NearTermRainfall(forecast, now)
	v[FeatSoil] = e.SoilSaturation(readings, now)
	if len(readings) == 0 {
		return v
	}

	current := CurrentLevel(readings)
	v[FeatCurrentLevel] = current
	v[FeatPreviousLevel] = current
	if len(readings) >= 2 {
		v[FeatPreviousLevel] = sanitize(readings[len(readings)-2].WaterLevel)
		v[FeatTrend] = e.Trend(readings, now)
	}

	maxLevel := math.Inf(-1)
	var sum, flowSum float64
	flows := 0
	for _, r := range readings {
		level := sanitize(r.WaterLevel)
		maxLevel = math.Max(maxLevel, level)
		sum += level
		if r.FlowRate != nil && isFinite(*r.FlowRate) {
			flowSum += *r.FlowRate
			flows++
		}
	}
	v[FeatMaxLevel] = maxLevel
	v[FeatMeanLevel] = sum / float64(len(readings))
	if flows > 0 {
		v[FeatMeanFlow] = flowSum / float64(flows)
	}
	return v
}
