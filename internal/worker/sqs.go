package worker

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// IngestEvent is the payload connectors enqueue for batch ingestion.
// The signed webhook accepts the same shape over HTTP.
type IngestEvent struct {
	EventID  string                 `json:"event_id"`
	Source   string                 `json:"source"`
	UserID   string                 `json:"user_id"`
	Content  string                 `json:"content"`
	Tags     []string               `json:"tags,omitempty"`
	Tier     string                 `json:"tier,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SQSAPI is the slice of the SQS client the queue uses, injectable for
// tests.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue reads ingest events from one SQS queue.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
}

// NewSQSQueue builds a queue client from the ambient AWS config.
func NewSQSQueue(ctx context.Context, queueURL string) (*SQSQueue, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &SQSQueue{client: sqs.NewFromConfig(cfg), queueURL: queueURL}, nil
}

// NewSQSQueueWithAPI wraps an injected API, for tests.
func NewSQSQueueWithAPI(api SQSAPI, queueURL string) *SQSQueue {
	return &SQSQueue{client: api, queueURL: queueURL}
}

// ReceiveEvents long-polls for up to maxMessages events. Bodies that do
// not decode are skipped; their messages stay on the queue until the
// redrive policy moves them aside.
func (q *SQSQueue) ReceiveEvents(ctx context.Context, maxMessages, waitSeconds int32) ([]IngestEvent, []string, error) {
	resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return nil, nil, err
	}

	var events []IngestEvent
	var handles []string
	for _, msg := range resp.Messages {
		if msg.Body == nil || msg.ReceiptHandle == nil {
			continue
		}
		var event IngestEvent
		if err := json.Unmarshal([]byte(*msg.Body), &event); err != nil {
			continue
		}
		events = append(events, event)
		handles = append(handles, *msg.ReceiptHandle)
	}
	return events, handles, nil
}

// DeleteMessage acknowledges one message by receipt handle.
func (q *SQSQueue) DeleteMessage(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}
