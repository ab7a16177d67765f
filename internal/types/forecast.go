package types

import "time"

// HourlyForecast is one bucket of a nowcast-style forecast.
type HourlyForecast struct {
	Time            time.Time `json:"time"`
	PrecipitationMM float64   `json:"precipitation_mm"`
	ProbabilityPct  *float64  `json:"precipitation_probability,omitempty"`
}

// ForecastPeriod is one named period of an alert-style forecast
// ("Tonight", "Tuesday").
type ForecastPeriod struct {
	Name                        string    `json:"name"`
	StartTime                   time.Time `json:"start_time"`
	ShortForecast               string    `json:"short_forecast,omitempty"`
	PrecipitationProbabilityPct *float64  `json:"precipitation_probability,omitempty"`
}

// ForecastSnapshot carries a forecast in one of two shapes. The engine only
// consumes two derived scalars from it: near-term rainfall and the
// precipitation-probability ceiling.
type ForecastSnapshot struct {
	Hourly  []HourlyForecast `json:"hourly,omitempty"`
	Periods []ForecastPeriod `json:"periods,omitempty"`
}

// Shape reports which form the snapshot carries. Hourly data takes
// precedence when both are present. A nil snapshot is unknown.
func (f *ForecastSnapshot) Shape() ForecastShape {
	switch {
	case f == nil:
		return ForecastShapeUnknown
	case len(f.Hourly) > 0:
		return ForecastShapeHourly
	case len(f.Periods) > 0:
		return ForecastShapePeriods
	default:
		return ForecastShapeUnknown
	}
}
