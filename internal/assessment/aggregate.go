package assessment

import (
	"fmt"
	"math"
	"slices"

	"floodguard/internal/features"
	"floodguard/internal/policy"
	"floodguard/internal/types"
)

const mmPerInch = 25.4

// Aggregate merges the policy decision into an assessment. The base
// assessment is not modified.
//
// An exploratory decision carries no evidence, so it leaves the confidence
// alone. When the policy asks for a stronger alert than the assessed level
// implies, a recommendation says so; the level itself is unchanged.
func Aggregate(base types.RiskAssessment, d policy.Decision) types.RiskAssessment {
	out := base
	out.Alerts = slices.Clone(base.Alerts)
	out.Recommendations = slices.Clone(base.Recommendations)

	out.PolicyAction = d.Action
	out.PolicyConfidence = d.Confidence
	out.PolicyExplored = d.Explored
	out.PolicyState = d.State.String()

	if !d.Explored {
		out.Confidence = math.Min(1, (base.Confidence+d.Confidence)/2)
	}
	if d.Action.Ordinal() > base.Level.Action().Ordinal() {
		out.Recommendations = append(out.Recommendations, fmt.Sprintf("Alert policy recommends: %s", d.Action))
	}
	return out
}

// PolicyState builds the policy observation for an assessment made from in.
// previous is the action issued on the location's last cycle.
func PolicyState(in Input, a types.RiskAssessment, previous types.AlertAction) policy.State {
	return policy.State{
		WaterLevel:    features.CurrentLevel(usable(in.Readings)),
		RateOfChange:  a.Factors.WaterLevelTrend,
		Precipitation: a.Factors.RainfallNowcast * mmPerInch,
		Night:         policy.IsNight(a.AssessedAt, in.Metadata.Location()),
		Previous:      previous,
	}
}
