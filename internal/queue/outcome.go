package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"floodguard/internal/monitor"
	"floodguard/internal/types"
)

// OutcomeMessage carries one ground-truth observation to the outcome worker.
type OutcomeMessage struct {
	ID         string                `json:"id" validate:"required"`
	LocationID string                `json:"location_id" validate:"required,max=128"`
	Report     monitor.OutcomeReport `json:"report"`
}

var validate = validator.New()

// DecodeOutcome parses and validates an SQS message body.
func DecodeOutcome(body string) (OutcomeMessage, error) {
	var msg OutcomeMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return OutcomeMessage{}, fmt.Errorf("queue: malformed outcome message: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return OutcomeMessage{}, fmt.Errorf("queue: invalid outcome message: %w", err)
	}
	if !msg.Report.Action.Valid() {
		return OutcomeMessage{}, fmt.Errorf("queue: invalid outcome message: unknown action %q", msg.Report.Action)
	}
	if !msg.Report.Actual.Valid() {
		return OutcomeMessage{}, fmt.Errorf("queue: invalid outcome message: unknown water state %q", msg.Report.Actual)
	}
	return msg, nil
}

// OutcomePublisher enqueues outcomes on a FIFO queue, grouped by location so
// each location's outcomes are applied in the order they were observed.
type OutcomePublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewOutcomePublisher creates an OutcomePublisher.
func NewOutcomePublisher(client SQSSender, queueURL string, logger *slog.Logger) *OutcomePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomePublisher{client: client, queueURL: queueURL, logger: logger}
}

// PublishOutcome enqueues report and returns the message ID.
func (p *OutcomePublisher) PublishOutcome(ctx context.Context, locationID string, report monitor.OutcomeReport) (string, error) {
	msg := OutcomeMessage{
		ID:         uuid.New().String(),
		LocationID: locationID,
		Report:     report,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("queue: failed to marshal OutcomeMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if isFIFO(p.queueURL) {
		input.MessageGroupId = aws.String(locationID)
		input.MessageDeduplicationId = aws.String(msg.ID)
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamQueue, "failed to enqueue outcome",
			fmt.Errorf("queue: send to %s: %w", p.queueURL, err))
	}

	p.logger.InfoContext(ctx, "outcome enqueued",
		"queue_url", p.queueURL,
		"message_id", msg.ID,
		"location_id", locationID,
		"action", string(report.Action),
		"actual_state", string(report.Actual),
	)
	return msg.ID, nil
}
