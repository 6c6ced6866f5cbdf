package app

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

const (
	actorSystem = "system"
	actorStripe = "stripe"
	actorAdmin  = "admin"
)

// creditMutation describes one ledger change. prepare runs first inside
// the transaction with the locked profile and may apply non-credit
// updates; returning skip ends the transaction without touching credits.
type creditMutation struct {
	reason    models.CreditReason
	actor     string
	reference string
	prepare   func(ctx context.Context, tx *sql.Tx, p *models.Profile) (skip bool, err error)
	apply     func(b Balance, p models.Profile) (Balance, error)
}

// mutateCredits locks the profile row, applies m and appends the CreditLog
// row in a single transaction. The low-credit email goes out after commit.
func mutateCredits(ctx context.Context, userID string, m creditMutation) (models.Profile, error) {
	if db == nil {
		return models.Profile{}, errDBNotInitialized
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return models.Profile{}, err
	}
	defer tx.Rollback()

	p, err := getProfileForUpdate(ctx, tx, userID)
	if err != nil {
		return models.Profile{}, err
	}

	if m.prepare != nil {
		skip, err := m.prepare(ctx, tx, &p)
		if err != nil {
			return models.Profile{}, err
		}
		if skip {
			if err := tx.Commit(); err != nil {
				return models.Profile{}, err
			}
			return p, nil
		}
	}

	before := balanceOf(p)
	after, err := m.apply(before, p)
	if err != nil {
		return p, err
	}
	flag, send := lowCreditState(before, after, p.LowCreditAlertSent, conf().Credits.LowCreditThreshold)

	_, err = tx.ExecContext(ctx, `
		UPDATE profiles
		SET credits_allowance_remaining = $1, credits_topup_remaining = $2,
			credits_remaining = $3, low_credit_alert_sent = $4, updated_at = now()
		WHERE user_id = $5;
	`, after.Allowance, after.Topup, after.Total(), flag, userID)
	if err != nil {
		return models.Profile{}, err
	}

	delta := after.Total() - before.Total()
	err = insertCreditLog(ctx, tx, models.CreditLog{
		UserID:         userID,
		Delta:          delta,
		Reason:         m.reason,
		AllowanceAfter: after.Allowance,
		TopupAfter:     after.Topup,
		BalanceAfter:   after.Total(),
		Actor:          m.actor,
		Reference:      m.reference,
	})
	if err != nil {
		return models.Profile{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Profile{}, err
	}

	p.CreditsAllowanceRemaining = after.Allowance
	p.CreditsTopupRemaining = after.Topup
	p.CreditsRemaining = after.Total()
	p.LowCreditAlertSent = flag
	recordCreditChange(m.reason, delta)

	logger.Get().Debug("credits updated",
		zap.String("user_id", userID),
		zap.String("reason", string(m.reason)),
		zap.Int("delta", delta),
		zap.Int("balance", after.Total()),
	)

	if send {
		notifyLowCredits(ctx, p)
	}
	return p, nil
}

func insertCreditLog(ctx context.Context, tx *sql.Tx, l models.CreditLog) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_logs (user_id, delta, reason, allowance_after, topup_after, balance_after, actor, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`, l.UserID, l.Delta, l.Reason, l.AllowanceAfter, l.TopupAfter, l.BalanceAfter, l.Actor, nullIfEmpty(l.Reference))
	return err
}

func allowanceFor(plan models.Plan) int {
	return conf().Credits.PlanAllowances[string(plan)]
}

// DeductCredits charges n credits for an extraction.
func DeductCredits(ctx context.Context, userID string, n int, documentID string) (models.Profile, error) {
	return mutateCredits(ctx, userID, creditMutation{
		reason:    models.ReasonExtraction,
		actor:     actorSystem,
		reference: documentID,
		apply: func(b Balance, _ models.Profile) (Balance, error) {
			return b.Deduct(n)
		},
	})
}

// ReimburseCredit returns n credits to the top-up bucket after a failed extraction.
func ReimburseCredit(ctx context.Context, userID string, n int, documentID string) (models.Profile, error) {
	return mutateCredits(ctx, userID, creditMutation{
		reason:    models.ReasonReimbursement,
		actor:     actorSystem,
		reference: documentID,
		apply: func(b Balance, _ models.Profile) (Balance, error) {
			return b.AddTopup(n)
		},
	})
}

// AddTopupCredits credits a purchased pack.
func AddTopupCredits(ctx context.Context, userID string, n int, reference string) (models.Profile, error) {
	return mutateCredits(ctx, userID, creditMutation{
		reason:    models.ReasonPurchase,
		actor:     actorStripe,
		reference: reference,
		apply: func(b Balance, _ models.Profile) (Balance, error) {
			return b.AddTopup(n)
		},
	})
}

// RenewAllowance starts a new billing period for the profile's current plan.
func RenewAllowance(ctx context.Context, userID, reference string) (models.Profile, error) {
	return mutateCredits(ctx, userID, creditMutation{
		reason:    models.ReasonRenewal,
		actor:     actorStripe,
		reference: reference,
		apply: func(b Balance, p models.Profile) (Balance, error) {
			return b.ResetAllowance(allowanceFor(p.Plan)), nil
		},
	})
}

// AdminSetCredits forces the total balance to total.
func AdminSetCredits(ctx context.Context, userID string, total int, actor, note string) (models.Profile, error) {
	return mutateCredits(ctx, userID, creditMutation{
		reason:    models.ReasonAdminSet,
		actor:     actor,
		reference: note,
		apply: func(b Balance, _ models.Profile) (Balance, error) {
			return b.SetTotal(total)
		},
	})
}

// AdminAddCredits applies a signed correction.
func AdminAddCredits(ctx context.Context, userID string, delta int, actor, note string) (models.Profile, error) {
	return mutateCredits(ctx, userID, creditMutation{
		reason:    models.ReasonAdminAdd,
		actor:     actor,
		reference: note,
		apply: func(b Balance, _ models.Profile) (Balance, error) {
			if delta == 0 {
				return b, ErrInvalidAmount
			}
			return b.Adjust(delta), nil
		},
	})
}

// SeedWelcomeCredits creates the profile with its welcome grant. Redelivered
// signups find the existing row and change nothing.
func SeedWelcomeCredits(ctx context.Context, userID, email, name string) (models.Profile, bool, error) {
	return createProfile(ctx, userID, email, name)
}

// ChangePlan moves the profile to plan, records a PlanChangeLog row and
// resets the allowance to the new plan's grant. A change to the current
// plan only refreshes the subscription id.
func ChangePlan(ctx context.Context, userID string, plan models.Plan, source, reference, subscriptionID string) (models.Profile, error) {
	return mutateCredits(ctx, userID, creditMutation{
		reason:    models.ReasonPlanChange,
		actor:     source,
		reference: reference,
		prepare: func(ctx context.Context, tx *sql.Tx, p *models.Profile) (bool, error) {
			if plan == models.PlanFree {
				subscriptionID = ""
			}
			if p.Plan == plan {
				if subscriptionID == "" || subscriptionID == p.StripeSubscriptionID {
					return true, nil
				}
				_, err := tx.ExecContext(ctx, `
					UPDATE profiles
					SET stripe_subscription_id = $1, updated_at = now()
					WHERE user_id = $2;
				`, subscriptionID, userID)
				p.StripeSubscriptionID = subscriptionID
				return true, err
			}

			_, err := tx.ExecContext(ctx, `
				UPDATE profiles
				SET plan_type = $1, stripe_subscription_id = $2, updated_at = now()
				WHERE user_id = $3;
			`, plan, nullIfEmpty(subscriptionID), userID)
			if err != nil {
				return false, err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO plan_change_logs (user_id, from_plan, to_plan, source, reference)
				VALUES ($1, $2, $3, $4, $5);
			`, userID, p.Plan, plan, source, nullIfEmpty(reference))
			if err != nil {
				return false, err
			}

			logger.Get().Info("plan changed",
				zap.String("user_id", userID),
				zap.String("from", string(p.Plan)),
				zap.String("to", string(plan)),
				zap.String("source", source),
			)
			p.Plan = plan
			p.StripeSubscriptionID = subscriptionID
			return false, nil
		},
		apply: func(b Balance, p models.Profile) (Balance, error) {
			return b.ResetAllowance(allowanceFor(p.Plan)), nil
		},
	})
}
