package app

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

// recordAPICall appends an ApiLog row. Audit failures are logged only.
func recordAPICall(ctx context.Context, l models.ApiLog) {
	if db == nil {
		return
	}
	var docID sql.NullString
	if l.DocumentID != "" {
		docID = sql.NullString{String: l.DocumentID, Valid: true}
	}
	_, err := db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO api_logs (user_id, document_id, provider, operation, status, duration_ms,
			prompt_tokens, completion_tokens, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`, l.UserID, docID, l.Provider, l.Operation, l.Status, l.DurationMS,
		l.PromptTokens, l.CompletionTokens, nullIfEmpty(l.ErrorMessage))
	if err != nil {
		logger.Get().Warn("api log insert failed",
			zap.String("provider", l.Provider),
			zap.String("operation", l.Operation),
			zap.Error(err),
		)
	}
}

func apiCallStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func durationMS(d time.Duration) int64 {
	return d.Milliseconds()
}

// listCreditLogs returns newest first. An empty userID lists every user.
func listCreditLogs(ctx context.Context, userID string, limit, offset int) ([]models.CreditLog, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, delta, reason, allowance_after, topup_after, balance_after,
			actor, COALESCE(reference, ''), created_at
		FROM credit_logs
		WHERE $1 = '' OR user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
		OFFSET $3;
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.CreditLog{}
	for rows.Next() {
		var l models.CreditLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Delta, &l.Reason, &l.AllowanceAfter, &l.TopupAfter,
			&l.BalanceAfter, &l.Actor, &l.Reference, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func listAPILogs(ctx context.Context, userID string, limit, offset int) ([]models.ApiLog, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(document_id::text, ''), provider, operation, status,
			duration_ms, prompt_tokens, completion_tokens, COALESCE(error_message, ''), created_at
		FROM api_logs
		WHERE $1 = '' OR user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
		OFFSET $3;
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ApiLog{}
	for rows.Next() {
		var l models.ApiLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.DocumentID, &l.Provider, &l.Operation, &l.Status,
			&l.DurationMS, &l.PromptTokens, &l.CompletionTokens, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func listPlanChanges(ctx context.Context, userID string, limit, offset int) ([]models.PlanChangeLog, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, from_plan, to_plan, source, COALESCE(reference, ''), created_at
		FROM plan_change_logs
		WHERE $1 = '' OR user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
		OFFSET $3;
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.PlanChangeLog{}
	for rows.Next() {
		var l models.PlanChangeLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.FromPlan, &l.ToPlan, &l.Source, &l.Reference, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
