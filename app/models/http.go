package models

import "github.com/shopspring/decimal"

// CheckoutRequest selects either a credit pack or a subscription plan.
type CheckoutRequest struct {
	Kind string `json:"kind" binding:"required,oneof=credits subscription"`
	Pack string `json:"pack"`
	Plan Plan   `json:"plan"`
}

// AdminCreditsRequest sets or adds to a user's credits.
type AdminCreditsRequest struct {
	Action string `json:"action" binding:"required,oneof=set add"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

type AdminPlanRequest struct {
	Plan Plan `json:"plan" binding:"required"`
}

// DocumentUpdate carries manual corrections; nil fields are left alone.
type DocumentUpdate struct {
	VendorName    *string          `json:"vendorName"`
	TotalAmount   *decimal.Decimal `json:"totalAmount"`
	Currency      *string          `json:"currency"`
	InvoiceDate   *string          `json:"invoiceDate"`
	InvoiceNumber *string          `json:"invoiceNumber"`
	LineItems     *[]LineItem      `json:"lineItems"`
}

type ReviewRequest struct {
	Rating      int    `json:"rating" binding:"required,min=1,max=5"`
	Comment     string `json:"comment" binding:"max=2000"`
	DisplayName string `json:"displayName" binding:"max=100"`
}

type ReviewApproval struct {
	Approved bool `json:"approved"`
}
