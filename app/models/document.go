package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one extracted invoice line. Amount is quantity * unit price
// when the source document shows it.
type LineItem struct {
	Description string              `json:"description"`
	Quantity    decimal.NullDecimal `json:"quantity"`
	UnitPrice   decimal.NullDecimal `json:"unitPrice"`
	Amount      decimal.NullDecimal `json:"amount"`
}

// ExtractedFields are the structured values pulled from a document.
type ExtractedFields struct {
	VendorName    string              `json:"vendorName"`
	TotalAmount   decimal.NullDecimal `json:"totalAmount"`
	Currency      string              `json:"currency"`
	InvoiceDate   string              `json:"invoiceDate"` // YYYY-MM-DD or empty
	InvoiceNumber string              `json:"invoiceNumber"`
	LineItems     []LineItem          `json:"lineItems"`
}

// Document is one uploaded PDF and its extraction and sync state.
type Document struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	FileName     string         `json:"fileName"`
	StorageKey   string         `json:"-"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	ExtractedFields
	SyncStatus SyncStatus `json:"syncStatus"`
	QBBillID   string     `json:"qbBillId,omitempty"`
	SyncError  string     `json:"syncError,omitempty"`
	SyncedAt   *time.Time `json:"syncedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
