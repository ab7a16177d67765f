package risk

import "math"

// TimeToImpact extrapolates the current trend to the critical level and
// returns the minutes until it is reached. A level that is not rising has no
// impact time, even above critical. A rising level at or above critical
// returns 0.
func TimeToImpact(trend, current, critical float64) *float64 {
	if math.IsNaN(trend) || math.IsInf(trend, 0) || trend <= 0 {
		return nil
	}
	if current >= critical {
		zero := 0.0
		return &zero
	}
	minutes := (critical - current) / trend * 60
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) {
		return nil
	}
	return &minutes
}
