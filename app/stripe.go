package app

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/config"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
)

// InitStripe wires the Stripe API key.
func InitStripe(cfg *config.Config) {
	stripe.Key = cfg.Stripe.SecretKey
}

// createStripeCustomer is swapped by tests.
var createStripeCustomer = func(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return customer.New(params)
}

// ensureStripeCustomer returns the profile's Stripe customer, creating one
// with metadata user_id = <clerk id> and storing it on first use.
func ensureStripeCustomer(ctx context.Context, p models.Profile) (string, error) {
	if p.UserID == "" {
		return "", errors.New("missing user id")
	}
	if p.StripeCustomerID != "" {
		return p.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Metadata: map[string]string{
			"user_id": p.UserID,
		},
	}
	if p.Email != "" {
		params.Email = stripe.String(p.Email)
	}
	if p.FullName != "" {
		params.Name = stripe.String(p.FullName)
	}
	params.Context = ctx

	cust, err := createStripeCustomer(params)
	if err != nil {
		return "", err
	}
	if err := setStripeCustomerID(ctx, p.UserID, cust.ID); err != nil {
		return "", err
	}
	return cust.ID, nil
}

// planForPrice maps a recurring price id back to its plan.
func planForPrice(priceID string) (models.Plan, bool) {
	if priceID == "" {
		return "", false
	}
	for name, id := range conf().Stripe.PlanPrices {
		if id == priceID {
			return models.Plan(name), true
		}
	}
	return "", false
}
