package types

// Telemetry metric names.
// All components MUST use these constants.
const (
	// Metric Names
	MetricAssessmentCount    = "AssessmentCount"
	MetricAssessmentLatency  = "AssessmentLatency"
	MetricRiskScore          = "RiskScore"
	MetricEvacuationFlag     = "EvacuationRecommended"
	MetricPolicyReward       = "PolicyReward"
	MetricSimulationEpisodes = "SimulationEpisodes"
	MetricEstimatorMissing   = "EstimatorMissingSignal"
	MetricPublishFailure     = "PublishFailure"
	MetricAPIRequestCount    = "APIRequestCount"
	MetricAPILatency         = "APILatency"

	// Dimension Keys
	DimLocation  = "LocationID"
	DimLevel     = "Level"
	DimAction    = "Action"
	DimEstimator = "Estimator"
	DimQueue     = "Queue"
	DimMethod    = "Method"
	DimEndpoint  = "Endpoint"
	DimStatus    = "Status"

	// Metric Namespace
	MetricNamespace = "FloodGuard"
)
