package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// RunCompleted is published once a daily run ends, successful or not.
type RunCompleted struct {
	RunID           string    `json:"run_id"`
	Date            string    `json:"date"`
	Status          string    `json:"status"`
	Metrics         []string  `json:"metrics"`
	Correlations    []string  `json:"correlations"`
	QualityFailures int       `json:"quality_failures"`
	Error           string    `json:"error,omitempty"`
	FinishedAt      time.Time `json:"finished_at"`
}

// RunPublisher sends RunCompleted messages to a queue.
type RunPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewRunPublisher creates a publisher targeting queueURL.
func NewRunPublisher(client SQSSender, queueURL string, logger *slog.Logger) *RunPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunPublisher{client: client, queueURL: queueURL, logger: logger}
}

// Publish serializes msg to JSON and sends it.
func (p *RunPublisher) Publish(ctx context.Context, msg RunCompleted) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("run publisher: failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("run publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "run completion published",
		"run_id", msg.RunID,
		"date", msg.Date,
		"status", msg.Status,
	)
	return nil
}
