package models

import "time"

type CreditReason string

const (
	ReasonExtraction    CreditReason = "extraction"
	ReasonReimbursement CreditReason = "reimbursement"
	ReasonPurchase      CreditReason = "purchase"
	ReasonWelcome       CreditReason = "welcome"
	ReasonRenewal       CreditReason = "renewal"
	ReasonAdminSet      CreditReason = "admin_set"
	ReasonAdminAdd      CreditReason = "admin_add"
	ReasonPlanChange    CreditReason = "plan_change"
)

// CreditLog is an append-only audit row for every ledger mutation.
type CreditLog struct {
	ID             int64        `json:"id"`
	UserID         string       `json:"userId"`
	Delta          int          `json:"delta"`
	Reason         CreditReason `json:"reason"`
	AllowanceAfter int          `json:"allowanceAfter"`
	TopupAfter     int          `json:"topupAfter"`
	BalanceAfter   int          `json:"balanceAfter"`
	Actor          string       `json:"actor"`
	Reference      string       `json:"reference,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// ApiLog records one outbound call to a billable or rate-limited provider.
type ApiLog struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"userId"`
	DocumentID       string    `json:"documentId,omitempty"`
	Provider         string    `json:"provider"`
	Operation        string    `json:"operation"`
	Status           string    `json:"status"`
	DurationMS       int64     `json:"durationMs"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

type PlanChangeLog struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	FromPlan  Plan      `json:"fromPlan"`
	ToPlan    Plan      `json:"toPlan"`
	Source    string    `json:"source"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Review struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"-"`
	DisplayName string    `json:"displayName"`
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment"`
	Approved    bool      `json:"approved"`
	CreatedAt   time.Time `json:"createdAt"`
}
