// Package models defines account, plan and credit fields stored per user.
package models

import "time"

type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanStarter, PlanPro:
		return true
	}
	return false
}

// Profile is one row per Clerk user.
type Profile struct {
	UserID                    string     `db:"user_id" json:"userId"`
	Email                     string     `db:"email" json:"email"`
	FullName                  string     `db:"full_name" json:"fullName"`
	Plan                      Plan       `db:"plan_type" json:"plan"`
	CreditsRemaining          int        `db:"credits_remaining" json:"creditsRemaining"`
	CreditsAllowanceRemaining int        `db:"credits_allowance_remaining" json:"creditsAllowanceRemaining"`
	CreditsTopupRemaining     int        `db:"credits_topup_remaining" json:"creditsTopupRemaining"`
	LowCreditAlertSent        bool       `db:"low_credit_alert_sent" json:"lowCreditAlertSent"`
	StripeCustomerID          string     `db:"stripe_customer_id" json:"-"`
	StripeSubscriptionID      string     `db:"stripe_subscription_id" json:"-"`
	IsAdmin                   bool       `db:"is_admin" json:"isAdmin"`
	CreatedAt                 time.Time  `db:"created_at" json:"createdAt"`
	DeletedAt                 *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`

	QuickBooks QuickBooksConnection `json:"-"`
}

// QuickBooksConnection holds the Intuit OAuth tokens for a connected realm.
type QuickBooksConnection struct {
	RealmID        string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time
}

// Connected reports whether a realm and refresh token are on file.
func (q QuickBooksConnection) Connected() bool {
	return q.RealmID != "" && q.RefreshToken != ""
}
