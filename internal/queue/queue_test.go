package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodguard/internal/monitor"
	"floodguard/internal/policy"
	"floodguard/internal/types"
)

// --- Mock SQS Client ---

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

const (
	testStandardURL = "https://sqs.us-east-1.amazonaws.com/123456789/assessments"
	testFIFOURL     = "https://sqs.us-east-1.amazonaws.com/123456789/outcomes.fifo"
)

func sampleAssessment() types.RiskAssessment {
	return types.RiskAssessment{
		ID:                    "b3c1e4a2-1111-5000-8000-000000000002",
		LocationID:            "loc-7",
		AssessedAt:            time.Date(2026, 7, 1, 3, 0, 0, 0, time.UTC),
		Level:                 types.RiskExtreme,
		Score:                 88,
		EvacuationRecommended: true,
	}
}

func TestPublishAssessment_StandardQueue(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewAssessmentPublisher(sender, testStandardURL, nil)
	ctx := types.WithRequestID(context.Background(), "req-42")

	require.NoError(t, pub.PublishAssessment(ctx, sampleAssessment()))
	require.Len(t, sender.calls, 1)

	call := sender.calls[0]
	assert.Equal(t, testStandardURL, aws.ToString(call.QueueUrl))
	assert.Nil(t, call.MessageGroupId)
	assert.Equal(t, "extreme", aws.ToString(call.MessageAttributes["level"].StringValue))
	assert.Equal(t, "true", aws.ToString(call.MessageAttributes["evacuation"].StringValue))

	var msg AssessmentMessage
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(call.MessageBody)), &msg))
	assert.Equal(t, "req-42", msg.TraceID)
	assert.Equal(t, "loc-7", msg.Assessment.LocationID)
	assert.Equal(t, 88.0, msg.Assessment.Score)
}

func TestPublishAssessment_FIFOQueue(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewAssessmentPublisher(sender, testFIFOURL, nil)
	a := sampleAssessment()

	require.NoError(t, pub.PublishAssessment(context.Background(), a))
	call := sender.calls[0]
	assert.Equal(t, "loc-7", aws.ToString(call.MessageGroupId))
	assert.Equal(t, a.ID, aws.ToString(call.MessageDeduplicationId))
}

func TestPublishAssessment_Error(t *testing.T) {
	sender := &mockSQSSender{err: errors.New("throttled")}
	err := NewAssessmentPublisher(sender, testStandardURL, nil).PublishAssessment(context.Background(), sampleAssessment())

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamQueue, appErr.Code)
}

func TestPublishOutcome_RoundTrip(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewOutcomePublisher(sender, testFIFOURL, nil)
	impact := 75.0
	report := monitor.OutcomeReport{
		Outcome: policy.Outcome{
			State:           policy.State{WaterLevel: 12, RateOfChange: 1.5, Previous: types.ActionWatch},
			Action:          types.ActionWarning,
			Actual:          types.WaterHigh,
			MinutesToImpact: &impact,
		},
		PredictedLevel: types.RiskHigh,
	}

	id, err := pub.PublishOutcome(context.Background(), "loc-7", report)
	require.NoError(t, err)
	require.Len(t, sender.calls, 1)

	call := sender.calls[0]
	assert.Equal(t, "loc-7", aws.ToString(call.MessageGroupId))
	assert.Equal(t, id, aws.ToString(call.MessageDeduplicationId))

	msg, err := DecodeOutcome(aws.ToString(call.MessageBody))
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "loc-7", msg.LocationID)
	assert.Equal(t, types.ActionWarning, msg.Report.Action)
	assert.Equal(t, types.WaterHigh, msg.Report.Actual)
	assert.Equal(t, types.RiskHigh, msg.Report.PredictedLevel)
	require.NotNil(t, msg.Report.MinutesToImpact)
	assert.Equal(t, 75.0, *msg.Report.MinutesToImpact)
	assert.Equal(t, types.ActionWatch, msg.Report.State.Previous)
}

func TestDecodeOutcome_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"id":`},
		{"missing id", `{"location_id":"loc-1","report":{"action":"watch","actual_state":"rising"}}`},
		{"missing location", `{"id":"m1","report":{"action":"watch","actual_state":"rising"}}`},
		{"unknown action", `{"id":"m1","location_id":"loc-1","report":{"action":"siren","actual_state":"rising"}}`},
		{"unknown state", `{"id":"m1","location_id":"loc-1","report":{"action":"watch","actual_state":"flooded"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeOutcome(tt.body)
			assert.Error(t, err)
		})
	}
}
