package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/config"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/auth"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/mailer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Clerk: config.ClerkConfig{WebhookSecret: "whsec_dGVzdC1zZWNyZXQtZm9yLWNsZXJrLXdlYmhvb2tz"},
		Stripe: config.StripeConfig{
			WebhookSecret: "whsec_stripe_test",
			FrontendURL:   "https://app.example.com",
			PlanPrices:    map[string]string{"starter": "price_starter", "pro": "price_pro"},
			Packs:         map[string]config.CreditPack{"small": {PriceID: "price_small", Credits: 25}},
		},
		Email: config.EmailConfig{FromName: "DocExtract"},
		Credits: config.CreditsConfig{
			WelcomeCredits:     5,
			LowCreditThreshold: 3,
			PlanAllowances:     map[string]int{"free": 0, "starter": 100, "pro": 500},
		},
	}
}

// useTestConfig swaps the package config for the duration of the test.
func useTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testConfig()
	prev := appConfig
	appConfig = cfg
	t.Cleanup(func() { appConfig = prev })
	return cfg
}

// useMockDB points the package db at a sqlmock connection and checks every
// expectation was met when the test ends.
func useMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	prev := db
	db = conn
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sql expectations: %v", err)
		}
		db = prev
		conn.Close()
	})
	return mock
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (r *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingMailer) messages() []mailer.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mailer.Message(nil), r.sent...)
}

func useMailer(t *testing.T) *recordingMailer {
	t.Helper()
	m := &recordingMailer{}
	prev := mail
	mail = m
	t.Cleanup(func() { mail = prev })
	return m
}

var profileColumnNames = []string{
	"user_id", "email", "full_name", "plan_type",
	"credits_remaining", "credits_allowance_remaining", "credits_topup_remaining",
	"low_credit_alert_sent", "stripe_customer_id", "stripe_subscription_id",
	"qb_realm_id", "qb_access_token", "qb_refresh_token", "qb_token_expires_at",
	"is_admin", "created_at", "deleted_at",
}

func profileRow(p models.Profile) *sqlmock.Rows {
	var deleted any
	if p.DeletedAt != nil {
		deleted = *p.DeletedAt
	}
	var qbExpires any
	if !p.QuickBooks.TokenExpiresAt.IsZero() {
		qbExpires = p.QuickBooks.TokenExpiresAt
	}
	plan := p.Plan
	if plan == "" {
		plan = models.PlanFree
	}
	return sqlmock.NewRows(profileColumnNames).AddRow(
		p.UserID, p.Email, p.FullName, string(plan),
		p.CreditsAllowanceRemaining+p.CreditsTopupRemaining,
		p.CreditsAllowanceRemaining, p.CreditsTopupRemaining,
		p.LowCreditAlertSent, p.StripeCustomerID, p.StripeSubscriptionID,
		p.QuickBooks.RealmID, p.QuickBooks.AccessToken, p.QuickBooks.RefreshToken, qbExpires,
		p.IsAdmin, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), deleted,
	)
}

func expectProfileLoad(mock sqlmock.Sqlmock, p models.Profile) {
	mock.ExpectQuery(`FROM profiles\s+WHERE user_id = \$1;`).
		WithArgs(p.UserID).
		WillReturnRows(profileRow(p))
}

func expectProfileLock(mock sqlmock.Sqlmock, p models.Profile) {
	mock.ExpectQuery(`FROM profiles\s+WHERE user_id = \$1\s+FOR UPDATE`).
		WithArgs(p.UserID).
		WillReturnRows(profileRow(p))
}

// expectLedgerWrite matches the balance update and CreditLog insert that
// close every successful credit mutation.
func expectLedgerWrite(mock sqlmock.Sqlmock, userID string, after Balance, flag bool, delta int, reason models.CreditReason) {
	mock.ExpectExec(`UPDATE profiles\s+SET credits_allowance_remaining`).
		WithArgs(after.Allowance, after.Topup, after.Total(), flag, userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO credit_logs`).
		WithArgs(userID, delta, string(reason), after.Allowance, after.Topup, after.Total(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

// newTestRouter mounts h behind a stub that injects claims for userID,
// standing in for the JWT middleware.
func newTestRouter(userID string, method, path string, handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	chain := []gin.HandlerFunc{func(c *gin.Context) {
		if userID != "" {
			ctx := auth.WithClaims(c.Request.Context(), &auth.Claims{Subject: userID})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}}
	r.Handle(method, path, append(chain, handlers...)...)
	return r
}
