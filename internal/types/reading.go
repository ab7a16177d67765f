package types

import (
	"math"
	"time"
)

// Reading is one timestamped telemetry sample for a monitored location.
// Optional measurements are nil when the station did not report them.
type Reading struct {
	LocationID      string    `json:"location_id,omitempty"`
	Timestamp       time.Time `json:"timestamp" validate:"required"`
	WaterLevel      float64   `json:"water_level" validate:"gte=0,lte=1000"`
	FlowRate        *float64  `json:"flow_rate,omitempty" validate:"omitempty,gte=0"`
	RainfallIn      *float64  `json:"rainfall_in,omitempty" validate:"omitempty,gte=0,lte=100"`
	SoilMoisturePct *float64  `json:"soil_moisture_pct,omitempty" validate:"omitempty,gte=0,lte=100"`
	TemperatureF    *float64  `json:"temperature_f,omitempty"`
	PressureMB      *float64  `json:"pressure_mb,omitempty"`
}

// Finite reports whether every populated measurement is a finite number.
func (r Reading) Finite() bool {
	if !finite(r.WaterLevel) {
		return false
	}
	for _, v := range []*float64{r.FlowRate, r.RainfallIn, r.SoilMoisturePct, r.TemperatureF, r.PressureMB} {
		if v != nil && !finite(*v) {
			return false
		}
	}
	return true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// LocationMetadata describes the exposure of a monitored location.
// It is supplied by the caller and treated as immutable for one assessment.
type LocationMetadata struct {
	Population         int      `json:"population,omitempty" validate:"gte=0"`
	InfrastructureTags []string `json:"infrastructure_tags,omitempty" validate:"max=50"`
	LowWaterCrossings  int      `json:"low_water_crossings,omitempty" validate:"gte=0"`
	// Timezone is an IANA zone name used for the day/night policy flag.
	// Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

// Location resolves the metadata timezone, falling back to UTC when it is
// empty or unknown.
func (m LocationMetadata) Location() *time.Location {
	if m.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
