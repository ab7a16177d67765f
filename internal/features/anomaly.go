package features

import (
	"math"

	"floodguard/internal/types"
)

// DefaultAnomalyThreshold is the z-score above which a reading is flagged.
const DefaultAnomalyThreshold = 3.0

// DetectAnomalies flags water-level readings whose z-score against the
// window exceeds threshold. A flat window (zero deviation) has no anomalies.
func DetectAnomalies(readings []types.Reading, threshold float64) []types.Anomaly {
	if len(readings) < 2 {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultAnomalyThreshold
	}

	var sum float64
	for _, r := range readings {
		sum += sanitize(r.WaterLevel)
	}
	mean := sum / float64(len(readings))

	var sq float64
	for _, r := range readings {
		d := sanitize(r.WaterLevel) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(readings)))
	if std == 0 || !isFinite(std) {
		return nil
	}

	var out []types.Anomaly
	for _, r := range readings {
		z := math.Abs(sanitize(r.WaterLevel)-mean) / std
		if z > threshold {
			out = append(out, types.Anomaly{Timestamp: r.Timestamp, Value: r.WaterLevel, ZScore: z})
		}
	}
	return out
}
