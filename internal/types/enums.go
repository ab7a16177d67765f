package types

// RiskLevel is the ordinal output of the risk classifier.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskExtreme  RiskLevel = "extreme"
)

// RiskLevels lists every level in ascending severity.
var RiskLevels = []RiskLevel{RiskNone, RiskLow, RiskModerate, RiskHigh, RiskExtreme}

// Ordinal returns the position of the level on the shared severity scale,
// or -1 for an unknown value.
func (l RiskLevel) Ordinal() int {
	switch l {
	case RiskNone:
		return 0
	case RiskLow:
		return 1
	case RiskModerate:
		return 2
	case RiskHigh:
		return 3
	case RiskExtreme:
		return 4
	default:
		return -1
	}
}

// Valid reports whether l is a known level.
func (l RiskLevel) Valid() bool { return l.Ordinal() >= 0 }

// Action returns the alert action at the same position on the severity scale.
func (l RiskLevel) Action() AlertAction {
	if o := l.Ordinal(); o >= 0 {
		return AlertActions[o]
	}
	return ActionNone
}

// MaxRiskLevel returns the more severe of two levels.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if b.Ordinal() > a.Ordinal() {
		return b
	}
	return a
}

// AlertAction is a public alert the policy can issue. The set mirrors
// RiskLevel one-to-one so both scales stay consistent.
type AlertAction string

const (
	ActionNone     AlertAction = "none"
	ActionWatch    AlertAction = "watch"
	ActionWarning  AlertAction = "warning"
	ActionHigh     AlertAction = "high"
	ActionEvacuate AlertAction = "evacuate"
)

// AlertActions lists every action in enumeration (and escalation) order.
// Tie-breaking during action selection follows this order.
var AlertActions = []AlertAction{ActionNone, ActionWatch, ActionWarning, ActionHigh, ActionEvacuate}

// NumAlertActions is the size of the fixed action set.
const NumAlertActions = 5

// Ordinal returns the escalation index of the action, or -1 if unknown.
func (a AlertAction) Ordinal() int {
	switch a {
	case ActionNone:
		return 0
	case ActionWatch:
		return 1
	case ActionWarning:
		return 2
	case ActionHigh:
		return 3
	case ActionEvacuate:
		return 4
	default:
		return -1
	}
}

// Valid reports whether a is a known action.
func (a AlertAction) Valid() bool { return a.Ordinal() >= 0 }

// RiskLevel returns the risk level at the same position on the scale.
func (a AlertAction) RiskLevel() RiskLevel {
	if o := a.Ordinal(); o >= 0 {
		return RiskLevels[o]
	}
	return RiskNone
}

// WaterState is the coarse ground-truth classification used by the reward model.
type WaterState string

const (
	WaterNormal   WaterState = "normal"
	WaterRising   WaterState = "rising"
	WaterHigh     WaterState = "high"
	WaterCritical WaterState = "critical"
)

// WaterStates lists every state in ascending severity.
var WaterStates = []WaterState{WaterNormal, WaterRising, WaterHigh, WaterCritical}

// NumWaterStates is the size of the water-state classification.
const NumWaterStates = 4

// Ordinal returns the severity index of the state, or -1 if unknown.
func (s WaterState) Ordinal() int {
	switch s {
	case WaterNormal:
		return 0
	case WaterRising:
		return 1
	case WaterHigh:
		return 2
	case WaterCritical:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known state.
func (s WaterState) Valid() bool { return s.Ordinal() >= 0 }

// RiskLevel is the risk level an observed water state confirms. It grades
// the accuracy of past assessments against ground truth.
func (s WaterState) RiskLevel() RiskLevel {
	switch s {
	case WaterRising:
		return RiskLow
	case WaterHigh:
		return RiskHigh
	case WaterCritical:
		return RiskExtreme
	default:
		return RiskNone
	}
}

// ForecastShape identifies which of the two supported forecast forms a
// snapshot carries.
type ForecastShape string

const (
	ForecastShapeUnknown ForecastShape = "unknown"
	ForecastShapeHourly  ForecastShape = "hourly"
	ForecastShapePeriods ForecastShape = "periods"
)

// Alert tags attached to a RiskAssessment.
const (
	AlertRapidWaterRise          = "RAPID_WATER_RISE"
	AlertHighOverflowProbability = "HIGH_OVERFLOW_PROBABILITY"
	AlertHeavyRainExpected       = "HEAVY_RAIN_EXPECTED"
	AlertSaturatedSoil           = "SATURATED_SOIL_CONDITIONS"
	AlertImmediateEvacuation     = "IMMEDIATE_EVACUATION_RECOMMENDED"
	AlertPrepareForEvacuation    = "PREPARE_FOR_EVACUATION"
	AlertCriticalInfrastructure  = "CRITICAL_INFRASTRUCTURE_AT_RISK"
	AlertImminentImpact          = "IMMINENT_IMPACT"
	AlertSensorAnomaly           = "SENSOR_ANOMALY"

	// AlertHighPrecipitationProbability comes from the forecast alone.
	AlertHighPrecipitationProbability = "HIGH_PRECIPITATION_PROBABILITY"
)
