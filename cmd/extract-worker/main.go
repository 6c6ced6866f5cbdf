package main

import (
	"context"
	"encoding/json"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/config"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

const maxMessages = 10

func main() {
	baseCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := logger.Init(cfg.Logs.Style, logger.LogLevel(cfg.Logs.Level)); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	lg := logger.Get()

	if cfg.QueueURL == "" {
		lg.Fatal("QUEUE_URL environment variable is required")
	}
	if err := app.Init(baseCtx, cfg); err != nil {
		lg.Fatal("failed to initialize integrations", zap.Error(err))
	}
	app.MustInitDB()

	awsCfg, err := awsconfig.LoadDefaultConfig(baseCtx)
	if err != nil {
		lg.Fatal("failed to load AWS config", zap.Error(err))
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	queueURL := cfg.QueueURL

	// long enough that no in-flight job is redelivered
	visibility := app.BatchVisibilityTimeout(maxMessages)

	lg.Info("worker started",
		zap.String("queue", queueURL),
		zap.Int("workers", app.GetWorkerCount()),
		zap.Duration("visibility_timeout", visibility),
	)

	for baseCtx.Err() == nil {
		recvCtx, cancel := context.WithTimeout(baseCtx, 30*time.Second)
		resp, err := sqsClient.ReceiveMessage(recvCtx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: maxMessages,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibility / time.Second),
		})
		cancel()

		if err != nil {
			if baseCtx.Err() != nil {
				break
			}
			lg.Warn("ReceiveMessage error", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}
		if len(resp.Messages) == 0 {
			continue
		}

		jobs := make([]models.ExtractionJob, 0, len(resp.Messages))
		handles := make(map[string]sqstypes.Message, len(resp.Messages))
		for _, m := range resp.Messages {
			if m.Body == nil {
				deleteMessage(sqsClient, queueURL, m)
				continue
			}
			var job models.ExtractionJob
			if err := json.Unmarshal([]byte(*m.Body), &job); err != nil || job.DocumentID == "" {
				lg.Warn("dropping unparseable message", zap.String("body", *m.Body), zap.Error(err))
				deleteMessage(sqsClient, queueURL, m)
				continue
			}
			jobs = append(jobs, job)
			handles[job.DocumentID] = m
		}

		// each job is bounded by its own extraction timeout; shutdown lets
		// the batch drain
		outcomes := app.ProcessExtractionBatch(context.WithoutCancel(baseCtx), jobs)

		for _, o := range outcomes {
			m, ok := handles[o.Job.DocumentID]
			if !ok {
				continue
			}
			if o.Err != nil {
				// left on the queue; SQS redelivers after the visibility timeout
				continue
			}
			deleteMessage(sqsClient, queueURL, m)
		}
	}

	lg.Info("worker stopped")
}

func deleteMessage(sqsClient *sqs.Client, queueURL string, m sqstypes.Message) {
	if m.ReceiptHandle == nil {
		return
	}
	_, err := sqsClient.DeleteMessage(context.Background(), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		logger.Get().Warn("failed to delete SQS message", zap.Error(err))
	}
}
