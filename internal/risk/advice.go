package risk

import (
	"fmt"

	"floodguard/internal/types"
)

// Alert tag triggers.
const (
	rapidRiseTrend          = 2.0
	highOverflowProbability = 0.7
	heavyRainInches         = 2.0
	saturatedSoil           = 0.8
	criticalInfrastructure  = 0.7
	infrastructureAdvisory  = 0.5
)

// Evacuation triggers.
const (
	evacuationImpactMinutes = 120.0
	evacuationTrend         = 3.0
)

// Alerts returns the alert tags raised by the factors and level, in a
// stable order.
func Alerts(f types.RiskFactors, level types.RiskLevel) []string {
	alerts := []string{}
	if f.WaterLevelTrend > rapidRiseTrend {
		alerts = append(alerts, types.AlertRapidWaterRise)
	}
	if f.ForecastProbability > highOverflowProbability {
		alerts = append(alerts, types.AlertHighOverflowProbability)
	}
	if f.RainfallNowcast > heavyRainInches {
		alerts = append(alerts, types.AlertHeavyRainExpected)
	}
	if f.SoilSaturation > saturatedSoil {
		alerts = append(alerts, types.AlertSaturatedSoil)
	}
	switch level {
	case types.RiskExtreme:
		alerts = append(alerts, types.AlertImmediateEvacuation)
	case types.RiskHigh:
		alerts = append(alerts, types.AlertPrepareForEvacuation)
	}
	if f.InfrastructureCriticality > criticalInfrastructure {
		alerts = append(alerts, types.AlertCriticalInfrastructure)
	}
	return alerts
}

var levelAdvice = map[types.RiskLevel][]string{
	types.RiskExtreme: {
		"Evacuate immediately to higher ground",
		"Avoid all low-water crossings",
		"Follow designated emergency evacuation routes",
	},
	types.RiskHigh: {
		"Prepare for potential evacuation",
		"Move valuables to higher floors",
		"Monitor emergency broadcasts",
		"Avoid unnecessary travel",
	},
	types.RiskModerate: {
		"Stay alert for changing conditions",
		"Prepare emergency supplies",
		"Plan evacuation routes",
	},
	types.RiskLow: {
		"Monitor weather forecasts",
		"Check emergency supplies",
	},
}

// Recommendations returns human-readable guidance for the level.
func Recommendations(level types.RiskLevel, f types.RiskFactors, meta types.LocationMetadata) []string {
	recs := append([]string{}, levelAdvice[level]...)
	if f.InfrastructureCriticality > infrastructureAdvisory {
		recs = append(recs, "Critical facilities should activate emergency protocols")
	}
	if meta.LowWaterCrossings > 0 && level.Ordinal() >= types.RiskModerate.Ordinal() && level != types.RiskExtreme {
		recs = append(recs, fmt.Sprintf("Avoid the %d low-water crossings in this area", meta.LowWaterCrossings))
	}
	return recs
}

// ShouldEvacuate applies the evacuation rules: an extreme score on its own,
// a high score with impact inside two hours, or a fast rise threatening
// critical infrastructure.
func ShouldEvacuate(score float64, minutesToImpact *float64, f types.RiskFactors) bool {
	if score >= ThresholdExtreme {
		return true
	}
	if score >= ThresholdHigh && minutesToImpact != nil && *minutesToImpact < evacuationImpactMinutes {
		return true
	}
	return f.WaterLevelTrend > evacuationTrend && f.InfrastructureCriticality > criticalInfrastructure
}
