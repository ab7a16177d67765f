// Package features turns raw telemetry windows and forecast payloads into
// the derived signals consumed by risk scoring and the predictive estimators.
//
// Every function here is total: missing or malformed inputs degrade to a
// conservative default and never produce an error, NaN, or Inf.
package features

import (
	"math"
	"strings"
	"time"

	"floodguard/internal/types"
)

// Defaults for Params fields left at zero.
const (
	DefaultCriticalLevel = 15.0
	DefaultTrendWindow   = 6 * time.Hour
	DefaultSoilWindow    = 24 * time.Hour
	DefaultMaxPopulation = 5_000_000.0

	// ProjectionHours is the horizon used to project the water level when
	// estimating overflow probability.
	ProjectionHours = 6.0
	// overflowScale is the divisor applied to the projected exceedance
	// before the logistic function.
	overflowScale = 5.0

	nowcastBuckets        = 6
	nowcastPeriods        = 2
	mmPerInch             = 0.0393701
	periodRainfallFactor  = 2.0
	soilRainCoefficient   = 0.2
	infrastructureWeight  = 0.2
	neutralHistoricalRate = 0.5
)

// criticalInfrastructure lists the tag fragments that mark a facility as
// critical. Matching is case-insensitive and by substring.
var criticalInfrastructure = []string{"hospital", "school", "emergency", "power", "water"}

// Params configures an Extractor.
type Params struct {
	CriticalLevel float64
	TrendWindow   time.Duration
	SoilWindow    time.Duration
	MaxPopulation float64
}

// Extractor derives RiskFactors and feature vectors. It holds only
// configuration and is safe for concurrent use.
type Extractor struct {
	critical      float64
	trendWindow   time.Duration
	soilWindow    time.Duration
	maxPopulation float64
}

// NewExtractor builds an Extractor, substituting defaults for zero fields.
func NewExtractor(p Params) *Extractor {
	e := &Extractor{
		critical:      p.CriticalLevel,
		trendWindow:   p.TrendWindow,
		soilWindow:    p.SoilWindow,
		maxPopulation: p.MaxPopulation,
	}
	if e.critical <= 0 {
		e.critical = DefaultCriticalLevel
	}
	if e.trendWindow <= 0 {
		e.trendWindow = DefaultTrendWindow
	}
	if e.soilWindow <= 0 {
		e.soilWindow = DefaultSoilWindow
	}
	if e.maxPopulation <= 0 {
		e.maxPopulation = DefaultMaxPopulation
	}
	return e
}

// CriticalLevel returns the configured overflow threshold.
func (e *Extractor) CriticalLevel() float64 { return e.critical }

// Input is everything the extractor needs for one assessment cycle.
type Input struct {
	Readings []types.Reading
	Forecast *types.ForecastSnapshot
	Metadata types.LocationMetadata
	History  []types.AccuracyRecord
	Now      time.Time

	// PredictedLevel is the estimator ensemble's level forecast, if any.
	PredictedLevel *float64
}

// Factors computes the complete RiskFactors bundle.
func (e *Extractor) Factors(in Input) types.RiskFactors {
	trend := e.Trend(in.Readings, in.Now)
	return types.RiskFactors{
		WaterLevelTrend:           trend,
		ForecastProbability:       e.OverflowProbability(CurrentLevel(in.Readings), trend, in.PredictedLevel),
		RainfallNowcast:           NearTermRainfall(in.Forecast, in.Now),
		SoilSaturation:            e.SoilSaturation(in.Readings, in.Now),
		HistoricalAccuracy:        HistoricalAccuracy(in.History),
		UrbanDensity:              e.UrbanDensity(in.Metadata),
		InfrastructureCriticality: InfrastructureCriticality(in.Metadata),
	}
}

// CurrentLevel is the most recent water level, or zero for an empty window.
func CurrentLevel(readings []types.Reading) float64 {
	if len(readings) == 0 {
		return 0
	}
	return sanitize(readings[len(readings)-1].WaterLevel)
}

// Trend is the rate of change in units/hour between the first and last
// readings inside the trend window ending at now.
func (e *Extractor) Trend(readings []types.Reading, now time.Time) float64 {
	window := Since(readings, now.Add(-e.trendWindow))
	if len(window) < 2 {
		return 0
	}
	first, last := window[0], window[len(window)-1]
	hours := last.Timestamp.Sub(first.Timestamp).Hours()
	if hours <= 0 {
		return 0
	}
	return sanitize((last.WaterLevel - first.WaterLevel) / hours)
}

// OverflowProbability estimates the chance the level reaches the critical
// threshold within ProjectionHours. A predicted level only ever raises the
// linear projection.
func (e *Extractor) OverflowProbability(current, trend float64, predicted *float64) float64 {
	if current >= e.critical {
		return 1
	}
	projected := current + trend*ProjectionHours
	if predicted != nil && isFinite(*predicted) && *predicted > projected {
		projected = *predicted
	}
	return sanitize(sigmoid((projected - e.critical) / overflowScale))
}

// NearTermRainfall estimates rainfall in inches over the next six hours.
// Hourly forecasts sum the first six buckets strictly after now; period
// forecasts approximate from the first two periods' probability ceiling.
func NearTermRainfall(f *types.ForecastSnapshot, now time.Time) float64 {
	switch f.Shape() {
	case types.ForecastShapeHourly:
		var mm float64
		taken := 0
		for _, h := range f.Hourly {
			if taken == nowcastBuckets {
				break
			}
			if !h.Time.After(now) {
				continue
			}
			taken++
			if isFinite(h.PrecipitationMM) && h.PrecipitationMM > 0 {
				mm += h.PrecipitationMM
			}
		}
		return mm * mmPerInch
	case types.ForecastShapePeriods:
		var ceiling float64
		for i, p := range f.Periods {
			if i == nowcastPeriods {
				break
			}
			ceiling = math.Max(ceiling, percent(p.PrecipitationProbabilityPct))
		}
		return ceiling * periodRainfallFactor
	default:
		return 0
	}
}

// PrecipitationCeiling is the highest precipitation probability in the
// forecast, in [0,1]. Period forecasts only consider the first two periods.
func PrecipitationCeiling(f *types.ForecastSnapshot) float64 {
	var ceiling float64
	switch f.Shape() {
	case types.ForecastShapeHourly:
		for _, h := range f.Hourly {
			ceiling = math.Max(ceiling, percent(h.ProbabilityPct))
		}
	case types.ForecastShapePeriods:
		for i, p := range f.Periods {
			if i == nowcastPeriods {
				break
			}
			ceiling = math.Max(ceiling, percent(p.PrecipitationProbabilityPct))
		}
	}
	return ceiling
}

// SoilSaturation prefers the newest reading's soil-moisture sensor and
// otherwise estimates from rainfall accumulated over the soil window.
func (e *Extractor) SoilSaturation(readings []types.Reading, now time.Time) float64 {
	if len(readings) > 0 {
		if m := readings[len(readings)-1].SoilMoisturePct; m != nil && isFinite(*m) {
			return clamp01(*m / 100)
		}
	}
	var rain float64
	for _, r := range Since(readings, now.Add(-e.soilWindow)) {
		if r.RainfallIn != nil && isFinite(*r.RainfallIn) && *r.RainfallIn > 0 {
			rain += *r.RainfallIn
		}
	}
	return clamp01(rain * soilRainCoefficient)
}

// HistoricalAccuracy is the share of correct entries, or 0.5 for an empty log.
func HistoricalAccuracy(records []types.AccuracyRecord) float64 {
	if len(records) == 0 {
		return neutralHistoricalRate
	}
	correct := 0
	for _, r := range records {
		if r.Correct {
			correct++
		}
	}
	return float64(correct) / float64(len(records))
}

// UrbanDensity normalizes population against the configured maximum.
func (e *Extractor) UrbanDensity(m types.LocationMetadata) float64 {
	if m.Population <= 0 {
		return 0
	}
	return clamp01(float64(m.Population) / e.maxPopulation)
}

// InfrastructureCriticality scores the critical facilities among the tags.
func InfrastructureCriticality(m types.LocationMetadata) float64 {
	matched := 0
	for _, tag := range m.InfrastructureTags {
		t := strings.ToLower(tag)
		for _, kind := range criticalInfrastructure {
			if strings.Contains(t, kind) {
				matched++
				break
			}
		}
	}
	return clamp01(float64(matched) * infrastructureWeight)
}

// Since returns the suffix of readings whose timestamps fall after cutoff.
// The input order is preserved.
func Since(readings []types.Reading, cutoff time.Time) []types.Reading {
	out := make([]types.Reading, 0, len(readings))
	for _, r := range readings {
		if r.Timestamp.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func percent(p *float64) float64 {
	if p == nil || !isFinite(*p) {
		return 0
	}
	return clamp01(*p / 100)
}

func clamp01(v float64) float64 {
	switch {
	case !isFinite(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func sanitize(v float64) float64 {
	if !isFinite(v) {
		return 0
	}
	return v
}
