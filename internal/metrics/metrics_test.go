package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodguard/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func dimValue(d cwtypes.MetricDatum, name string) string {
	for _, dim := range d.Dimensions {
		if aws.ToString(dim.Name) == name {
			return aws.ToString(dim.Value)
		}
	}
	return ""
}

func TestCloudWatchRecorder_RecordAssessment(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "", nil)

	rec.RecordAssessment(context.Background(), types.RiskAssessment{
		LocationID:            "loc-1",
		Level:                 types.RiskHigh,
		Score:                 72.5,
		EvacuationRecommended: true,
	}, 35*time.Millisecond)

	require.Len(t, cw.calls, 1)
	input := cw.calls[0]
	assert.Equal(t, types.MetricNamespace, aws.ToString(input.Namespace))
	require.Len(t, input.MetricData, 4)

	count := input.MetricData[0]
	assert.Equal(t, types.MetricAssessmentCount, aws.ToString(count.MetricName))
	assert.Equal(t, "high", dimValue(count, types.DimLevel))
	assert.Equal(t, cwtypes.StandardUnitCount, count.Unit)

	latency := input.MetricData[1]
	assert.Equal(t, 35.0, aws.ToFloat64(latency.Value))
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, latency.Unit)

	score := input.MetricData[2]
	assert.Equal(t, 72.5, aws.ToFloat64(score.Value))
	assert.Equal(t, "loc-1", dimValue(score, types.DimLocation))

	assert.Equal(t, types.MetricEvacuationFlag, aws.ToString(input.MetricData[3].MetricName))
}

func TestCloudWatchRecorder_NoEvacuationDatum(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "Custom", nil)

	rec.RecordAssessment(context.Background(), types.RiskAssessment{LocationID: "loc-1", Level: types.RiskLow}, time.Millisecond)

	require.Len(t, cw.calls, 1)
	assert.Equal(t, "Custom", aws.ToString(cw.calls[0].Namespace))
	assert.Len(t, cw.calls[0].MetricData, 3)
}

func TestCloudWatchRecorder_SingleDatumMetrics(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "", nil)
	ctx := context.Background()

	rec.RecordReward(ctx, "loc-1", types.ActionWarning, -20)
	rec.RecordSimulation(ctx, "loc-1", 500)
	rec.RecordMissingSignal(ctx, "risk_classifier")
	rec.RecordPublishFailure(ctx, "assessments")

	require.Len(t, cw.calls, 4)
	tests := []struct {
		metric string
		dim    string
		value  string
		amount float64
	}{
		{types.MetricPolicyReward, types.DimAction, "warning", -20},
		{types.MetricSimulationEpisodes, types.DimLocation, "loc-1", 500},
		{types.MetricEstimatorMissing, types.DimEstimator, "risk_classifier", 1},
		{types.MetricPublishFailure, types.DimQueue, "assessments", 1},
	}
	for i, tt := range tests {
		d := cw.calls[i].MetricData[0]
		assert.Equal(t, tt.metric, aws.ToString(d.MetricName))
		assert.Equal(t, tt.value, dimValue(d, tt.dim))
		assert.Equal(t, tt.amount, aws.ToFloat64(d.Value))
	}
}

func TestCloudWatchRecorder_ErrorIsSwallowed(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	rec := NewCloudWatchRecorder(cw, "", nil)

	assert.NotPanics(t, func() {
		rec.RecordMissingSignal(context.Background(), "level_predictor")
	})
	assert.Len(t, cw.calls, 1)
}

func scrape(t *testing.T, p *PrometheusRecorder) string {
	t.Helper()
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPrometheusRecorder_Exposition(t *testing.T) {
	p := NewPrometheusRecorder("floodguard")
	ctx := context.Background()

	p.RecordAssessment(ctx, types.RiskAssessment{LocationID: "loc-1", Level: types.RiskExtreme, Score: 91, EvacuationRecommended: true}, 12*time.Millisecond)
	p.RecordAssessment(ctx, types.RiskAssessment{LocationID: "loc-1", Level: types.RiskExtreme, Score: 88}, 8*time.Millisecond)
	p.RecordReward(ctx, "loc-1", types.ActionEvacuate, 105)
	p.RecordSimulation(ctx, "loc-1", 50)
	p.RecordSimulation(ctx, "loc-1", 25)
	p.RecordMissingSignal(ctx, "level_predictor")
	p.RecordPublishFailure(ctx, "outcomes")

	body := scrape(t, p)
	assert.Contains(t, body, `floodguard_assessments_total{level="extreme"} 2`)
	assert.Contains(t, body, `floodguard_risk_score{location="loc-1"} 88`)
	assert.Contains(t, body, `floodguard_evacuations_recommended_total{location="loc-1"} 1`)
	assert.Contains(t, body, `floodguard_simulation_episodes_total{location="loc-1"} 75`)
	assert.Contains(t, body, `floodguard_estimator_missing_signals_total{estimator="level_predictor"} 1`)
	assert.Contains(t, body, `floodguard_publish_failures_total{queue="outcomes"} 1`)
	assert.Contains(t, body, `floodguard_policy_reward_count{action="evacuate"} 1`)
	assert.Contains(t, body, `floodguard_assessment_duration_seconds_count{level="extreme"} 2`)
}

func TestPrometheusRecorder_IndependentRegistries(t *testing.T) {
	a := NewPrometheusRecorder("floodguard")
	b := NewPrometheusRecorder("floodguard")

	a.RecordMissingSignal(context.Background(), "risk_classifier")

	assert.NotContains(t, scrape(t, b), "estimator_missing_signals_total{")
}

func TestCloudWatchRecorder_RecordRequest(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "Custom", nil)

	rec.RecordRequest("POST", "/v1/locations/{locationID}/assessments", "200", 40*time.Millisecond)

	require.Len(t, cw.calls, 1)
	assert.Equal(t, "Custom", aws.ToString(cw.calls[0].Namespace))
	require.Len(t, cw.calls[0].MetricData, 2)
	count, latency := cw.calls[0].MetricData[0], cw.calls[0].MetricData[1]
	assert.Equal(t, types.MetricAPIRequestCount, aws.ToString(count.MetricName))
	assert.Equal(t, "/v1/locations/{locationID}/assessments", dimValue(count, types.DimEndpoint))
	assert.Equal(t, "200", dimValue(count, types.DimStatus))
	assert.Equal(t, types.MetricAPILatency, aws.ToString(latency.MetricName))
	assert.Equal(t, 40.0, aws.ToFloat64(latency.Value))
}

func TestPrometheusRecorder_RecordRequest(t *testing.T) {
	p := NewPrometheusRecorder("floodguard")

	p.RecordRequest("GET", "/health", "200", 3*time.Millisecond)
	p.RecordRequest("GET", "/health", "503", 2*time.Millisecond)

	body := scrape(t, p)
	assert.Contains(t, body, `floodguard_http_requests_total{endpoint="/health",method="GET",status="200"} 1`)
	assert.Contains(t, body, `floodguard_http_requests_total{endpoint="/health",method="GET",status="503"} 1`)
	assert.Contains(t, body, `floodguard_http_request_duration_seconds_count{endpoint="/health",method="GET"} 2`)
}
