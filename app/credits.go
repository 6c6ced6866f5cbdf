// Package app implements the two-bucket credit ledger used to meter extractions.
package app

import (
	"errors"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("invalid credit amount")
)

// Balance is the pair of credit buckets held on a profile. The monthly
// allowance is always consumed before purchased top-up credits.
type Balance struct {
	Allowance int
	Topup     int
}

func balanceOf(p models.Profile) Balance {
	return Balance{Allowance: p.CreditsAllowanceRemaining, Topup: p.CreditsTopupRemaining}
}

// Total is the derived credits_remaining value.
func (b Balance) Total() int {
	return b.Allowance + b.Topup
}

// Deduct consumes n credits, allowance first.
func (b Balance) Deduct(n int) (Balance, error) {
	if n <= 0 {
		return b, ErrInvalidAmount
	}
	if b.Total() < n {
		return b, ErrInsufficientCredits
	}
	fromAllowance := min(n, b.Allowance)
	b.Allowance -= fromAllowance
	b.Topup -= n - fromAllowance
	return b, nil
}

// AddTopup credits n purchased (or refunded) credits.
func (b Balance) AddTopup(n int) (Balance, error) {
	if n <= 0 {
		return b, ErrInvalidAmount
	}
	b.Topup += n
	return b, nil
}

// ResetAllowance starts a new billing period. Unused allowance does not roll over.
func (b Balance) ResetAllowance(n int) Balance {
	b.Allowance = max(n, 0)
	return b
}

// SetTotal forces the total to n, keeping as much allowance as fits.
func (b Balance) SetTotal(n int) (Balance, error) {
	if n < 0 {
		return b, ErrInvalidAmount
	}
	if n <= b.Allowance {
		return Balance{Allowance: n}, nil
	}
	return Balance{Allowance: b.Allowance, Topup: n - b.Allowance}, nil
}

// Adjust applies a signed admin correction. Negative deltas are consumed
// allowance first and clamp at zero.
func (b Balance) Adjust(delta int) Balance {
	if delta >= 0 {
		b.Topup += delta
		return b
	}
	take := min(-delta, b.Total())
	if take == 0 {
		return b
	}
	out, _ := b.Deduct(take)
	return out
}

// lowCreditState decides the alert flag after a balance change. send is
// true only on the change that first drops the total to threshold or below.
func lowCreditState(before, after Balance, alreadySent bool, threshold int) (flag bool, send bool) {
	if after.Total() > threshold {
		return false, false
	}
	if alreadySent {
		return true, false
	}
	if after.Total() < before.Total() {
		return true, true
	}
	return false, false
}
