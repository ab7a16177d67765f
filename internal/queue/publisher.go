// Package queue provides SQS-based producers for emitted assessments and
// ground-truth outcomes, plus the outcome message codec shared with the
// outcome worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"floodguard/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AssessmentMessage is the body published for every emitted assessment.
type AssessmentMessage struct {
	TraceID     string               `json:"trace_id"`
	PublishedAt time.Time            `json:"published_at"`
	Assessment  types.RiskAssessment `json:"assessment"`
}

// AssessmentPublisher sends emitted assessments to the notification queue.
//
// Message attributes carry the level and evacuation flag so subscribers can
// filter without decoding the body. On a FIFO queue messages are grouped by
// location and deduplicated by assessment ID.
type AssessmentPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewAssessmentPublisher creates an AssessmentPublisher.
func NewAssessmentPublisher(client SQSSender, queueURL string, logger *slog.Logger) *AssessmentPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssessmentPublisher{client: client, queueURL: queueURL, logger: logger}
}

// PublishAssessment sends a.
func (p *AssessmentPublisher) PublishAssessment(ctx context.Context, a types.RiskAssessment) error {
	msg := AssessmentMessage{
		TraceID:     traceID(ctx),
		PublishedAt: time.Now().UTC(),
		Assessment:  a,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal AssessmentMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"level": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(a.Level)),
			},
			"evacuation": {
				DataType:    aws.String("String"),
				StringValue: aws.String(strconv.FormatBool(a.EvacuationRecommended)),
			},
		},
	}
	if isFIFO(p.queueURL) {
		input.MessageGroupId = aws.String(a.LocationID)
		input.MessageDeduplicationId = aws.String(a.ID)
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue, "failed to publish assessment",
			fmt.Errorf("queue: send to %s: %w", p.queueURL, err))
	}

	p.logger.InfoContext(ctx, "assessment published",
		"queue_url", p.queueURL,
		"trace_id", msg.TraceID,
		"location_id", a.LocationID,
		"assessment_id", a.ID,
		"level", string(a.Level),
	)
	return nil
}

// isFIFO reports whether queueURL names a FIFO queue.
func isFIFO(queueURL string) bool {
	return strings.HasSuffix(queueURL, ".fifo")
}

// traceID reuses the request ID when the context carries one.
func traceID(ctx context.Context) string {
	if id := types.GetRequestID(ctx); id != "" {
		return id
	}
	return uuid.New().String()
}
