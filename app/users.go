// Package app provides profile persistence for Clerk users.
package app

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/auth"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

var errProfileDeleted = errors.New("profile deleted")

const profileColumns = `
	user_id, COALESCE(email, ''), COALESCE(full_name, ''), plan_type,
	credits_remaining, credits_allowance_remaining, credits_topup_remaining,
	low_credit_alert_sent, COALESCE(stripe_customer_id, ''),
	COALESCE(stripe_subscription_id, ''), COALESCE(qb_realm_id, ''),
	COALESCE(qb_access_token, ''), COALESCE(qb_refresh_token, ''),
	qb_token_expires_at, is_admin, created_at, deleted_at`

func scanProfile(row rowScanner) (models.Profile, error) {
	var (
		p         models.Profile
		qbExpires sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&p.UserID,
		&p.Email,
		&p.FullName,
		&p.Plan,
		&p.CreditsRemaining,
		&p.CreditsAllowanceRemaining,
		&p.CreditsTopupRemaining,
		&p.LowCreditAlertSent,
		&p.StripeCustomerID,
		&p.StripeSubscriptionID,
		&p.QuickBooks.RealmID,
		&p.QuickBooks.AccessToken,
		&p.QuickBooks.RefreshToken,
		&qbExpires,
		&p.IsAdmin,
		&p.CreatedAt,
		&deletedAt,
	)
	if err != nil {
		return models.Profile{}, err
	}
	if qbExpires.Valid {
		p.QuickBooks.TokenExpiresAt = qbExpires.Time
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		p.DeletedAt = &t
	}
	return p, nil
}

// EnsureProfileFromClaims creates the caller's profile when the Clerk
// webhook has not landed yet. Soft-deleted profiles are refused.
func EnsureProfileFromClaims(ctx context.Context, claims *auth.Claims) error {
	if db == nil {
		return nil
	}
	if claims == nil || claims.Subject == "" {
		return nil
	}

	email := claims.Email
	if email == "" {
		email = readStringClaim(claims.Raw, "email")
	}
	name := readStringClaim(claims.Raw, "name")

	p, _, err := createProfile(ctx, claims.Subject, email, name)
	if err != nil {
		return err
	}
	if p.DeletedAt != nil {
		return errProfileDeleted
	}
	return nil
}

// createProfile inserts a profile seeded with the welcome credits. The
// insert and its welcome CreditLog row share one transaction, and an
// existing profile is returned untouched with created = false.
func createProfile(ctx context.Context, userID, email, name string) (models.Profile, bool, error) {
	if db == nil {
		return models.Profile{}, false, errDBNotInitialized
	}
	welcome := max(conf().Credits.WelcomeCredits, 0)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return models.Profile{}, false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (user_id, email, full_name, plan_type, credits_remaining,
			credits_allowance_remaining, credits_topup_remaining, is_admin)
		VALUES ($1, $2, $3, $4, $5, 0, $5, $6)
		ON CONFLICT (user_id) DO NOTHING;
	`, userID, nullIfEmpty(email), nullIfEmpty(name), models.PlanFree, welcome, isConfiguredAdmin(userID))
	if err != nil {
		return models.Profile{}, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return models.Profile{}, false, err
	}

	if inserted > 0 && welcome > 0 {
		err := insertCreditLog(ctx, tx, models.CreditLog{
			UserID:         userID,
			Delta:          welcome,
			Reason:         models.ReasonWelcome,
			AllowanceAfter: 0,
			TopupAfter:     welcome,
			BalanceAfter:   welcome,
			Actor:          actorSystem,
		})
		if err != nil {
			return models.Profile{}, false, err
		}
	}

	p, err := scanProfile(tx.QueryRowContext(ctx, `SELECT `+profileColumns+`
		FROM profiles
		WHERE user_id = $1;
	`, userID))
	if err != nil {
		return models.Profile{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return models.Profile{}, false, err
	}

	if inserted > 0 {
		creditsAdded.WithLabelValues(string(models.ReasonWelcome)).Add(float64(welcome))
		logger.Get().Info("profile created", zap.String("user_id", userID), zap.Int("welcome_credits", welcome))
	}
	return p, inserted > 0, nil
}

func getProfile(ctx context.Context, userID string) (models.Profile, error) {
	if db == nil {
		return models.Profile{}, errDBNotInitialized
	}
	return scanProfile(db.QueryRowContext(ctx, `SELECT `+profileColumns+`
		FROM profiles
		WHERE user_id = $1;
	`, userID))
}

func getProfileForUpdate(ctx context.Context, tx *sql.Tx, userID string) (models.Profile, error) {
	return scanProfile(tx.QueryRowContext(ctx, `SELECT `+profileColumns+`
		FROM profiles
		WHERE user_id = $1
		FOR UPDATE;
	`, userID))
}

func getProfileByStripeCustomer(ctx context.Context, customerID string) (models.Profile, error) {
	if db == nil {
		return models.Profile{}, errDBNotInitialized
	}
	if customerID == "" {
		return models.Profile{}, errors.New("missing stripe customer id")
	}
	return scanProfile(db.QueryRowContext(ctx, `SELECT `+profileColumns+`
		FROM profiles
		WHERE stripe_customer_id = $1;
	`, customerID))
}

func ListProfiles(ctx context.Context, limit, offset int) ([]models.Profile, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	rows, err := db.QueryContext(ctx, `SELECT `+profileColumns+`
		FROM profiles
		ORDER BY created_at DESC
		LIMIT $1
		OFFSET $2;
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func updateProfileIdentity(ctx context.Context, userID, email, name string) error {
	if db == nil {
		return errDBNotInitialized
	}
	res, err := db.ExecContext(ctx, `
		UPDATE profiles
		SET email = COALESCE($1, email), full_name = COALESCE($2, full_name), updated_at = now()
		WHERE user_id = $3;
	`, nullIfEmpty(email), nullIfEmpty(name), userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// claimWelcomeEmail flips welcome_email_sent and reports whether this
// caller won it.
func claimWelcomeEmail(ctx context.Context, userID string) (bool, error) {
	if db == nil {
		return false, errDBNotInitialized
	}
	res, err := db.ExecContext(ctx, `
		UPDATE profiles
		SET welcome_email_sent = true, updated_at = now()
		WHERE user_id = $1 AND welcome_email_sent = false AND deleted_at IS NULL;
	`, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func softDeleteProfile(ctx context.Context, userID string) error {
	if db == nil {
		return errDBNotInitialized
	}
	_, err := db.ExecContext(ctx, `
		UPDATE profiles
		SET deleted_at = COALESCE(deleted_at, now()), updated_at = now()
		WHERE user_id = $1;
	`, userID)
	return err
}

func setStripeCustomerID(ctx context.Context, userID, customerID string) error {
	if db == nil {
		return errDBNotInitialized
	}
	_, err := db.ExecContext(ctx, `
		UPDATE profiles
		SET stripe_customer_id = $1, updated_at = now()
		WHERE user_id = $2;
	`, customerID, userID)
	return err
}

func saveQuickBooksTokens(ctx context.Context, userID string, conn models.QuickBooksConnection) error {
	if db == nil {
		return errDBNotInitialized
	}
	_, err := db.ExecContext(ctx, `
		UPDATE profiles
		SET qb_realm_id = $1, qb_access_token = $2, qb_refresh_token = $3,
			qb_token_expires_at = $4, updated_at = now()
		WHERE user_id = $5;
	`, conn.RealmID, conn.AccessToken, conn.RefreshToken, nullTimeIfZero(conn.TokenExpiresAt), userID)
	return err
}

func clearQuickBooksTokens(ctx context.Context, userID string) error {
	if db == nil {
		return errDBNotInitialized
	}
	_, err := db.ExecContext(ctx, `
		UPDATE profiles
		SET qb_realm_id = NULL, qb_access_token = NULL, qb_refresh_token = NULL,
			qb_token_expires_at = NULL, updated_at = now()
		WHERE user_id = $1;
	`, userID)
	return err
}

func isConfiguredAdmin(userID string) bool {
	return slices.Contains(conf().Auth.AdminUserIDs, userID)
}

func isAdmin(p models.Profile) bool {
	return p.IsAdmin || isConfiguredAdmin(p.UserID)
}

func readStringClaim(raw map[string]any, key string) string {
	if raw == nil {
		return ""
	}
	val, ok := raw[key]
	if !ok {
		return ""
	}
	if s, ok := val.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTimeIfZero(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
