package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

const (
	extractionTimeout = 2 * time.Minute
	extractionCost    = 1
	batchSlack        = time.Minute
)

var (
	errExtractionUnavailable = errors.New("extraction is not configured")
	errDocumentNotProcessing = errors.New("document is no longer processing")
	errStoreExtraction       = errors.New("could not save extracted data")
)

// ExtractionOutcome is the result of one job in a batch. Err is set only
// when the job should be retried; a failed extraction is a final outcome.
type ExtractionOutcome struct {
	Job      models.ExtractionJob
	Document models.Document
	Err      error
}

// ProcessExtractionJob runs one extraction to a final state.
func ProcessExtractionJob(ctx context.Context, job models.ExtractionJob) (models.Document, error) {
	doc, err := getDocumentByID(ctx, job.DocumentID)
	if err != nil {
		return models.Document{}, fmt.Errorf("load document %s: %w", job.DocumentID, err)
	}
	return processDocument(ctx, doc)
}

// processDocument extracts fields for a processing document. Documents
// already completed or failed are returned unchanged, so redelivered jobs
// are harmless.
func processDocument(ctx context.Context, doc models.Document) (models.Document, error) {
	if doc.Status != models.DocumentProcessing {
		return doc, nil
	}
	log := logger.Get().With(zap.String("document_id", doc.ID), zap.String("user_id", doc.UserID))

	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	start := time.Now()
	fields, err := extractFields(ctx, doc)
	extractionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		log.Warn("extraction failed", zap.Error(err))
		return failExtraction(ctx, doc, err)
	}

	if err := completeDocument(context.WithoutCancel(ctx), doc.ID, fields); err != nil {
		if errors.Is(err, errDocumentNotProcessing) {
			// another delivery finished it first
			current, lerr := getDocumentByID(context.WithoutCancel(ctx), doc.ID)
			if lerr != nil {
				return doc, fmt.Errorf("reload document %s: %w", doc.ID, lerr)
			}
			return current, nil
		}
		log.Error("storing extraction failed", zap.Error(err))
		return failExtraction(ctx, doc, fmt.Errorf("%w: %v", errStoreExtraction, err))
	}
	extractionsTotal.WithLabelValues(string(models.DocumentCompleted)).Inc()
	log.Info("extraction completed", zap.Duration("took", time.Since(start)))

	doc.Status = models.DocumentCompleted
	doc.ErrorMessage = ""
	doc.ExtractedFields = fields
	if doc.LineItems == nil {
		doc.LineItems = []models.LineItem{}
	}
	return doc, nil
}

// failExtraction moves the document to failed and refunds its credit.
func failExtraction(ctx context.Context, doc models.Document, cause error) (models.Document, error) {
	message := extractionFailureMessage(cause)
	if err := failAndReimburse(context.WithoutCancel(ctx), doc, message); err != nil {
		return doc, err
	}
	extractionsTotal.WithLabelValues(string(models.DocumentFailed)).Inc()
	doc.Status = models.DocumentFailed
	doc.ErrorMessage = message
	return doc, nil
}

func extractFields(ctx context.Context, doc models.Document) (models.ExtractedFields, error) {
	if extract == nil {
		return models.ExtractedFields{}, errExtractionUnavailable
	}
	if store == nil {
		return models.ExtractedFields{}, errors.New("storage is not configured")
	}

	data, err := store.Get(ctx, doc.StorageKey)
	if err != nil {
		return models.ExtractedFields{}, fmt.Errorf("download %s: %w", doc.StorageKey, err)
	}

	start := time.Now()
	res, err := extract.Extract(ctx, data)
	recordAPICall(ctx, models.ApiLog{
		UserID:           doc.UserID,
		DocumentID:       doc.ID,
		Provider:         "openai",
		Operation:        "extract",
		Status:           apiCallStatus(err),
		DurationMS:       durationMS(time.Since(start)),
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		ErrorMessage:     errorText(err),
	})
	if err != nil {
		return models.ExtractedFields{}, err
	}
	return res.Fields, nil
}

func extractionFailureMessage(err error) string {
	switch {
	case errors.Is(err, errExtractionUnavailable):
		return "extraction is temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "extraction timed out"
	case errors.Is(err, errStoreExtraction):
		return "could not save the extracted data"
	default:
		return "could not extract data from this document"
	}
}

// failAndReimburse marks the document failed and refunds its credit in one
// transaction. Only the first caller to move it out of processing refunds.
func failAndReimburse(ctx context.Context, doc models.Document, message string) error {
	_, err := mutateCredits(ctx, doc.UserID, creditMutation{
		reason:    models.ReasonReimbursement,
		actor:     actorSystem,
		reference: doc.ID,
		prepare: func(ctx context.Context, tx *sql.Tx, _ *models.Profile) (bool, error) {
			res, err := tx.ExecContext(ctx, `
				UPDATE documents
				SET status = $1, error_message = $2, updated_at = now()
				WHERE id = $3 AND status = $4;
			`, models.DocumentFailed, message, doc.ID, models.DocumentProcessing)
			if err != nil {
				return false, err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return false, err
			}
			return n == 0, nil
		},
		apply: func(b Balance, _ models.Profile) (Balance, error) {
			return b.AddTopup(extractionCost)
		},
	})
	if errors.Is(err, sql.ErrNoRows) {
		// profile is gone; still record the failure
		return failDocument(ctx, doc.ID, message)
	}
	return err
}

// BatchVisibilityTimeout is how long a batch of jobs can take when each
// job runs to its own extraction timeout on GetWorkerCount workers.
func BatchVisibilityTimeout(jobs int) time.Duration {
	if jobs < 1 {
		jobs = 1
	}
	workers := GetWorkerCount()
	rounds := (jobs + workers - 1) / workers
	return time.Duration(rounds)*extractionTimeout + batchSlack
}

// ProcessExtractionBatch runs jobs on a bounded worker pool sized by
// GetWorkerCount. Each job gets its own extraction timeout, so ctx should
// carry no deadline shorter than BatchVisibilityTimeout. Jobs not started
// before ctx ends come back with Err set. Outcomes are returned in no
// particular order.
func ProcessExtractionBatch(ctx context.Context, jobs []models.ExtractionJob) []ExtractionOutcome {
	if len(jobs) == 0 {
		return nil
	}
	start := time.Now()
	log := logger.Get()

	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.DocumentID)
	}
	docs, err := documentsByIDs(ctx, ids)
	if err != nil {
		out := make([]ExtractionOutcome, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, ExtractionOutcome{Job: j, Err: err})
		}
		return out
	}

	numWorkers := min(GetWorkerCount(), len(jobs))
	log.Info("processing extraction batch", zap.Int("jobs", len(jobs)), zap.Int("workers", numWorkers))

	work := make(chan models.ExtractionJob, len(jobs))
	results := make(chan ExtractionOutcome, len(jobs))
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range work {
				if err := ctx.Err(); err != nil {
					// never started; leave it for redelivery
					results <- ExtractionOutcome{Job: j, Err: err}
					continue
				}
				doc, ok := docs[j.DocumentID]
				if !ok {
					log.Warn("job references unknown document", zap.Int("worker", id), zap.String("document_id", j.DocumentID))
					results <- ExtractionOutcome{Job: j}
					continue
				}
				final, err := processDocument(ctx, doc)
				if err != nil {
					log.Error("extraction job failed", zap.Int("worker", id), zap.String("document_id", j.DocumentID), zap.Error(err))
				}
				results <- ExtractionOutcome{Job: j, Document: final, Err: err}
			}
		}(i)
	}

	go func() {
		defer close(work)
		for _, j := range jobs {
			work <- j
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]ExtractionOutcome, 0, len(jobs))
	for r := range results {
		out = append(out, r)
	}

	log.Info("extraction batch complete", zap.Int("jobs", len(out)), zap.Duration("took", time.Since(start)))
	return out
}
