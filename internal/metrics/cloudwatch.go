package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"floodguard/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRecorder emits metrics to CloudWatch.
//
// Metrics emitted:
//   - AssessmentCount: Dims {Level}
//   - AssessmentLatency: Dims {Level}, milliseconds
//   - RiskScore: Dims {LocationID}
//   - EvacuationRecommended: Dims {LocationID}, only when set
//   - PolicyReward: Dims {Action}
//   - SimulationEpisodes: Dims {LocationID}
//   - EstimatorMissingSignal: Dims {Estimator}
//   - PublishFailure: Dims {Queue}
//   - APIRequestCount, APILatency: Dims {Method, Endpoint, Status}
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRecorder publishes to namespace, or types.MetricNamespace
// when empty.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{client: client, namespace: namespace, logger: logger}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func datum(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: dims,
	}
}

func (m *CloudWatchRecorder) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to put metric data",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

// RecordAssessment emits the count, latency and score of one assessment.
func (m *CloudWatchRecorder) RecordAssessment(ctx context.Context, a types.RiskAssessment, latency time.Duration) {
	level := dim(types.DimLevel, string(a.Level))
	location := dim(types.DimLocation, a.LocationID)
	data := []cwtypes.MetricDatum{
		datum(types.MetricAssessmentCount, 1, cwtypes.StandardUnitCount, level),
		datum(types.MetricAssessmentLatency, float64(latency.Milliseconds()), cwtypes.StandardUnitMilliseconds, level),
		datum(types.MetricRiskScore, a.Score, cwtypes.StandardUnitNone, location),
	}
	if a.EvacuationRecommended {
		data = append(data, datum(types.MetricEvacuationFlag, 1, cwtypes.StandardUnitCount, location))
	}
	m.put(ctx, data...)
}

// RecordReward emits the reward earned by an outcome.
func (m *CloudWatchRecorder) RecordReward(ctx context.Context, _ string, action types.AlertAction, reward float64) {
	m.put(ctx, datum(types.MetricPolicyReward, reward, cwtypes.StandardUnitNone, dim(types.DimAction, string(action))))
}

// RecordSimulation emits the number of simulated episodes.
func (m *CloudWatchRecorder) RecordSimulation(ctx context.Context, locationID string, episodes int) {
	m.put(ctx, datum(types.MetricSimulationEpisodes, float64(episodes), cwtypes.StandardUnitCount, dim(types.DimLocation, locationID)))
}

// RecordMissingSignal counts an estimator that produced nothing in time.
func (m *CloudWatchRecorder) RecordMissingSignal(ctx context.Context, estimator string) {
	m.put(ctx, datum(types.MetricEstimatorMissing, 1, cwtypes.StandardUnitCount, dim(types.DimEstimator, estimator)))
}

// RecordPublishFailure counts a failed queue publish.
func (m *CloudWatchRecorder) RecordPublishFailure(ctx context.Context, queue string) {
	m.put(ctx, datum(types.MetricPublishFailure, 1, cwtypes.StandardUnitCount, dim(types.DimQueue, queue)))
}

// RecordRequest emits the count and latency of one HTTP request.
func (m *CloudWatchRecorder) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(types.DimMethod, method),
		dim(types.DimEndpoint, endpoint),
		dim(types.DimStatus, status),
	}
	m.put(context.Background(),
		datum(types.MetricAPIRequestCount, 1, cwtypes.StandardUnitCount, dims...),
		datum(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims...),
	)
}
