package types

import "time"

// RiskFactors are the seven derived scalars consumed by the scoring function.
// They are recomputed on every assessment cycle.
type RiskFactors struct {
	WaterLevelTrend           float64 `json:"water_level_trend"`
	ForecastProbability       float64 `json:"forecast_probability"`
	RainfallNowcast           float64 `json:"rainfall_nowcast"`
	SoilSaturation            float64 `json:"soil_saturation"`
	HistoricalAccuracy        float64 `json:"historical_accuracy"`
	UrbanDensity              float64 `json:"urban_density"`
	InfrastructureCriticality float64 `json:"infrastructure_criticality"`
}

// Anomaly is a reading whose water level deviates sharply from the window.
type Anomaly struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	ZScore    float64   `json:"z_score"`
}

// Prediction is the output of the estimator ensemble. Nil fields are
// missing signals (the estimator failed, was tripped, or missed the deadline).
type Prediction struct {
	Level          *float64  `json:"predicted_level,omitempty"`
	Risk           RiskLevel `json:"model_risk,omitempty"`
	RiskConfidence float64   `json:"model_risk_confidence,omitempty"`
	Missing        []string  `json:"missing_signals,omitempty"`
}

// RiskAssessment is the immutable output of one assessment cycle.
type RiskAssessment struct {
	ID                    string      `json:"id"`
	LocationID            string      `json:"location_id"`
	AssessedAt            time.Time   `json:"assessed_at"`
	Score                 float64     `json:"score"`
	Level                 RiskLevel   `json:"level"`
	Confidence            float64     `json:"confidence"`
	Factors               RiskFactors `json:"factors"`
	Alerts                []string    `json:"alerts"`
	Recommendations       []string    `json:"recommendations"`
	MinutesToImpact       *float64    `json:"minutes_to_impact,omitempty"`
	EvacuationRecommended bool        `json:"evacuation_recommended"`

	// Escalated is set when the level was raised above Classify(Score)
	// because impact is imminent.
	Escalated bool        `json:"escalated,omitempty"`
	Anomalies []Anomaly   `json:"anomalies,omitempty"`
	Model     *Prediction `json:"model,omitempty"`

	// Populated by the decision aggregator once the alert policy has run.
	PolicyAction     AlertAction `json:"policy_action,omitempty"`
	PolicyConfidence float64     `json:"policy_confidence,omitempty"`
	PolicyExplored   bool        `json:"policy_explored,omitempty"`
	PolicyState      string      `json:"policy_state,omitempty"`
}

// AccuracyRecord is one entry of a location's bounded prediction log.
type AccuracyRecord struct {
	Predicted  RiskLevel `json:"predicted"`
	Actual     RiskLevel `json:"actual"`
	Correct    bool      `json:"correct"`
	RecordedAt time.Time `json:"recorded_at"`
}

// PolicySnapshot is a stored policy document. Versions start at 1 and grow by
// one per save; Version 0 with a nil Document means nothing is stored.
type PolicySnapshot struct {
	Document []byte
	Version  int64
}
