package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
)

type jobQueue interface {
	Enqueue(ctx context.Context, job models.ExtractionJob) error
}

type sqsSender interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSQueue publishes extraction jobs for cmd/extract-worker.
type SQSQueue struct {
	client   sqsSender
	queueURL string
}

func NewSQSQueue(client sqsSender, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Enqueue(ctx context.Context, job models.ExtractionJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("enqueue document %s: %w", job.DocumentID, err)
	}
	return nil
}
