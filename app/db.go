package app

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

var db *sql.DB

//go:embed schema.sql
var schemaSQL string

var errDBNotInitialized = errors.New("db not initialized")

type rowScanner interface {
	Scan(dest ...any) error
}

// MustInitDB initializes the global db and exits fatally on error.
func MustInitDB() {
	d, err := sql.Open("postgres", conf().DB.DSN())
	if err != nil {
		logger.Get().Fatal("sql.Open failed", zap.Error(err))
	}
	d.SetMaxOpenConns(10)
	d.SetConnMaxIdleTime(5 * time.Minute)

	if err := d.Ping(); err != nil {
		logger.Get().Fatal("db.Ping failed", zap.Error(err))
	}

	logger.Get().Info("Connected to Postgres")
	db = d
}

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context) error {
	if db == nil {
		return errDBNotInitialized
	}
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}

const documentColumns = `
	id, user_id, file_name, storage_key, status, COALESCE(error_message, ''),
	COALESCE(vendor_name, ''), total_amount, COALESCE(currency, ''),
	COALESCE(invoice_date, ''), COALESCE(invoice_number, ''), line_items,
	sync_status, COALESCE(qb_bill_id, ''), COALESCE(sync_error, ''), synced_at,
	created_at, updated_at`

func scanDocument(row rowScanner) (models.Document, error) {
	var (
		d         models.Document
		lineItems []byte
		syncedAt  sql.NullTime
	)
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.FileName,
		&d.StorageKey,
		&d.Status,
		&d.ErrorMessage,
		&d.VendorName,
		&d.TotalAmount,
		&d.Currency,
		&d.InvoiceDate,
		&d.InvoiceNumber,
		&lineItems,
		&d.SyncStatus,
		&d.QBBillID,
		&d.SyncError,
		&syncedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return models.Document{}, err
	}
	if len(lineItems) > 0 {
		if err := json.Unmarshal(lineItems, &d.LineItems); err != nil {
			return models.Document{}, fmt.Errorf("decode line_items for %s: %w", d.ID, err)
		}
	}
	if d.LineItems == nil {
		d.LineItems = []models.LineItem{}
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		d.SyncedAt = &t
	}
	return d, nil
}

func insertDocument(ctx context.Context, d models.Document) error {
	if db == nil {
		return errDBNotInitialized
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO documents (id, user_id, file_name, storage_key, status, sync_status)
		VALUES ($1, $2, $3, $4, $5, $6);
	`, d.ID, d.UserID, d.FileName, d.StorageKey, models.DocumentProcessing, models.SyncNotSynced)
	return err
}

// getDocument loads a document owned by userID.
func getDocument(ctx context.Context, userID, id string) (models.Document, error) {
	if db == nil {
		return models.Document{}, errDBNotInitialized
	}
	row := db.QueryRowContext(ctx, `SELECT `+documentColumns+`
		FROM documents
		WHERE id = $1 AND user_id = $2;
	`, id, userID)
	return scanDocument(row)
}

// getDocumentByID loads a document without an owner check, for workers.
func getDocumentByID(ctx context.Context, id string) (models.Document, error) {
	if db == nil {
		return models.Document{}, errDBNotInitialized
	}
	row := db.QueryRowContext(ctx, `SELECT `+documentColumns+`
		FROM documents
		WHERE id = $1;
	`, id)
	return scanDocument(row)
}

func listDocuments(ctx context.Context, userID string, limit, offset int) ([]models.Document, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	rows, err := db.QueryContext(ctx, `SELECT `+documentColumns+`
		FROM documents
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
		OFFSET $3;
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// documentsByIDs batch-loads documents for the worker pool.
func documentsByIDs(ctx context.Context, ids []string) (map[string]models.Document, error) {
	out := make(map[string]models.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	if db == nil {
		return nil, errDBNotInitialized
	}
	rows, err := db.QueryContext(ctx, `SELECT `+documentColumns+`
		FROM documents
		WHERE id::text = ANY($1);
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out[d.ID] = d
	}
	return out, rows.Err()
}

func marshalLineItems(items []models.LineItem) ([]byte, error) {
	if items == nil {
		items = []models.LineItem{}
	}
	return json.Marshal(items)
}

func completeDocument(ctx context.Context, id string, f models.ExtractedFields) error {
	if db == nil {
		return errDBNotInitialized
	}
	items, err := marshalLineItems(f.LineItems)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE documents
		SET status = $1, error_message = NULL, vendor_name = $2, total_amount = $3,
			currency = $4, invoice_date = $5, invoice_number = $6, line_items = $7,
			updated_at = now()
		WHERE id = $8 AND status = $9;
	`, models.DocumentCompleted, f.VendorName, f.TotalAmount, f.Currency,
		f.InvoiceDate, f.InvoiceNumber, items, id, models.DocumentProcessing)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errDocumentNotProcessing
	}
	return nil
}

func failDocument(ctx context.Context, id, message string) error {
	if db == nil {
		return errDBNotInitialized
	}
	_, err := db.ExecContext(ctx, `
		UPDATE documents
		SET status = $1, error_message = $2, updated_at = now()
		WHERE id = $3;
	`, models.DocumentFailed, message, id)
	return err
}

// saveDocumentFields writes manual corrections. Unsynced documents are
// reset to not_synced so a previous failure can be retried.
func saveDocumentFields(ctx context.Context, d models.Document) error {
	if db == nil {
		return errDBNotInitialized
	}
	items, err := marshalLineItems(d.LineItems)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE documents
		SET vendor_name = $1, total_amount = $2, currency = $3, invoice_date = $4,
			invoice_number = $5, line_items = $6,
			sync_status = CASE WHEN sync_status = 'synced' THEN sync_status ELSE 'not_synced' END,
			sync_error = NULL, updated_at = now()
		WHERE id = $7 AND user_id = $8;
	`, d.VendorName, d.TotalAmount, d.Currency, d.InvoiceDate, d.InvoiceNumber, items, d.ID, d.UserID)
	return err
}

func deleteDocumentRow(ctx context.Context, userID, id string) error {
	if db == nil {
		return errDBNotInitialized
	}
	res, err := db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND user_id = $2;`, id, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func markDocumentSynced(ctx context.Context, id, billID string) error {
	if db == nil {
		return errDBNotInitialized
	}
	_, err := db.ExecContext(ctx, `
		UPDATE documents
		SET sync_status = $1, qb_bill_id = $2, sync_error = NULL, synced_at = now(), updated_at = now()
		WHERE id = $3;
	`, models.SyncSynced, billID, id)
	return err
}

func markDocumentSyncFailed(ctx context.Context, id, message string) error {
	if db == nil {
		return errDBNotInitialized
	}
	_, err := db.ExecContext(ctx, `
		UPDATE documents
		SET sync_status = $1, sync_error = $2, updated_at = now()
		WHERE id = $3;
	`, models.SyncFailed, message, id)
	return err
}

func nullDecimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
