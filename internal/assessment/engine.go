// Package assessment runs the forward path of one assessment cycle: factor
// extraction, scoring, time-to-impact, escalation, and the alert bundle. It
// also merges the alert policy's decision into that bundle.
//
// Engine.Assess is pure. It holds no mutable state and may be called
// concurrently for any number of locations.
package assessment

import (
	"time"

	"github.com/google/uuid"

	"floodguard/internal/features"
	"floodguard/internal/risk"
	"floodguard/internal/types"
)

// DefaultImminentImpact is the time-to-impact at or below which the level is
// raised to at least high.
const DefaultImminentImpact = 120 * time.Minute

// highPrecipitationProbability is the forecast probability ceiling above
// which HIGH_PRECIPITATION_PROBABILITY is raised.
const highPrecipitationProbability = 0.8

// assessmentNamespace seeds deterministic assessment IDs.
var assessmentNamespace = uuid.MustParse("6f1c2a7e-3b9d-4c55-9a0e-2d7f4b8e1c63")

// Params configures an Engine. Zero fields take package defaults.
type Params struct {
	Features         features.Params
	Freshness        time.Duration
	ImminentImpact   time.Duration
	AnomalyThreshold float64
	// Deadband enables downgrade hysteresis when positive: the level only
	// drops below Input.PreviousLevel once the score is more than Deadband
	// under that level's lower breakpoint.
	Deadband float64
}

// Input is everything one assessment consumes. Readings must be ordered
// oldest first.
type Input struct {
	LocationID string
	Readings   []types.Reading
	Forecast   *types.ForecastSnapshot
	Metadata   types.LocationMetadata
	History    []types.AccuracyRecord
	// Now is the assessment instant; zero means the engine clock.
	Now time.Time
	// Prediction is the estimator ensemble output, if one ran.
	Prediction *types.Prediction
	// PreviousLevel is the level of the location's last assessment, used
	// only for hysteresis.
	PreviousLevel types.RiskLevel
}

// Engine evaluates assessments.
type Engine struct {
	extractor        *features.Extractor
	clock            types.Clock
	freshness        time.Duration
	imminentMinutes  float64
	anomalyThreshold float64
	deadband         float64
}

// NewEngine builds an Engine. A nil clock uses the real UTC clock.
func NewEngine(p Params, clock types.Clock) *Engine {
	if clock == nil {
		clock = types.RealClock{}
	}
	if p.Freshness <= 0 {
		p.Freshness = risk.DefaultFreshness
	}
	if p.ImminentImpact <= 0 {
		p.ImminentImpact = DefaultImminentImpact
	}
	if p.AnomalyThreshold <= 0 {
		p.AnomalyThreshold = features.DefaultAnomalyThreshold
	}
	return &Engine{
		extractor:        features.NewExtractor(p.Features),
		clock:            clock,
		freshness:        p.Freshness,
		imminentMinutes:  p.ImminentImpact.Minutes(),
		anomalyThreshold: p.AnomalyThreshold,
		deadband:         max(0, p.Deadband),
	}
}

// Extractor exposes the engine's feature extractor.
func (e *Engine) Extractor() *features.Extractor { return e.extractor }

// Now resolves the assessment instant of in.
func (e *Engine) Now(in Input) time.Time {
	if in.Now.IsZero() {
		return e.clock.Now()
	}
	return in.Now
}

// Vector builds the estimator feature vector for in.
func (e *Engine) Vector(in Input) []float64 {
	return e.extractor.Vector(usable(in.Readings), in.Forecast, e.Now(in))
}

// Assess produces the decision bundle. It never fails: missing or degenerate
// inputs lower the factors and the confidence instead.
func (e *Engine) Assess(in Input) types.RiskAssessment {
	now := e.Now(in)
	readings := usable(in.Readings)

	var predicted *float64
	if in.Prediction != nil {
		predicted = in.Prediction.Level
	}
	factors := e.extractor.Factors(features.Input{
		Readings:       readings,
		Forecast:       in.Forecast,
		Metadata:       in.Metadata,
		History:        in.History,
		Now:            now,
		PredictedLevel: predicted,
	})

	score, level := risk.Score(factors)
	level = e.hold(level, score, in.PreviousLevel)
	impact := risk.TimeToImpact(factors.WaterLevelTrend, features.CurrentLevel(readings), e.extractor.CriticalLevel())
	imminent := impact != nil && *impact <= e.imminentMinutes

	escalated := false
	if imminent {
		raised := types.MaxRiskLevel(level, types.RiskHigh)
		escalated = raised != level
		level = raised
	}

	anomalies := features.DetectAnomalies(readings, e.anomalyThreshold)
	alerts := risk.Alerts(factors, level)
	if imminent {
		alerts = append(alerts, types.AlertImminentImpact)
	}
	if len(anomalies) > 0 {
		alerts = append(alerts, types.AlertSensorAnomaly)
	}
	if features.PrecipitationCeiling(in.Forecast) > highPrecipitationProbability {
		alerts = append(alerts, types.AlertHighPrecipitationProbability)
	}

	var newest *time.Time
	if len(readings) > 0 {
		ts := readings[len(readings)-1].Timestamp
		newest = &ts
	}

	a := types.RiskAssessment{
		ID:                    AssessmentID(in.LocationID, now),
		LocationID:            in.LocationID,
		AssessedAt:            now,
		Score:                 score,
		Level:                 level,
		Confidence:            risk.Confidence(len(readings), factors.HistoricalAccuracy, newest, now, e.freshness),
		Factors:               factors,
		Alerts:                alerts,
		Recommendations:       risk.Recommendations(level, factors, in.Metadata),
		MinutesToImpact:       impact,
		EvacuationRecommended: risk.ShouldEvacuate(score, impact, factors),
		Escalated:             escalated,
		Anomalies:             anomalies,
	}
	if in.Prediction != nil {
		p := *in.Prediction
		a.Model = &p
	}
	return a
}

// hold keeps the previous level while the score sits inside the deadband
// below its breakpoint.
func (e *Engine) hold(level types.RiskLevel, score float64, previous types.RiskLevel) types.RiskLevel {
	if e.deadband <= 0 || previous.Ordinal() <= level.Ordinal() {
		return level
	}
	if score >= risk.LowerBound(previous)-e.deadband {
		return previous
	}
	return level
}

// AssessmentID derives a stable ID from the location and instant, so
// re-running the same assessment yields the same record.
func AssessmentID(locationID string, at time.Time) string {
	return uuid.NewSHA1(assessmentNamespace, []byte(locationID+"|"+at.UTC().Format(time.RFC3339Nano))).String()
}

// usable drops readings with non-finite measurements.
func usable(readings []types.Reading) []types.Reading {
	for i, r := range readings {
		if !r.Finite() {
			out := make([]types.Reading, 0, len(readings)-1)
			out = append(out, readings[:i]...)
			for _, r := range readings[i+1:] {
				if r.Finite() {
					out = append(out, r)
				}
			}
			return out
		}
	}
	return readings
}
