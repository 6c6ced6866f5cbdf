package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	portal "github.com/stripe/stripe-go/v79/billingportal/session"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

var errInvalidStripePayload = errors.New("invalid stripe payload")

// Stripe API calls, swapped by tests.
var (
	newCheckoutSession = session.New
	newPortalSession   = portal.New
)

// CreateCheckoutSession starts a Stripe Checkout Session for a credit pack
// or a subscription plan.
func CreateCheckoutSession(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	frontendURL := strings.TrimRight(conf().Stripe.FrontendURL, "/")
	if frontendURL == "" {
		logger.Get().Error("missing Stripe config: frontend_url")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	params := &stripe.CheckoutSessionParams{
		ClientReferenceID: stripe.String(p.UserID),
		SuccessURL:        stripe.String(frontendURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(frontendURL + "/billing/cancel"),
		Metadata: map[string]string{
			"user_id": p.UserID,
		},
	}

	switch req.Kind {
	case "credits":
		pack, ok := conf().Stripe.Packs[req.Pack]
		if !ok || pack.PriceID == "" || pack.Credits <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown credit pack"})
			return
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(pack.PriceID), Quantity: stripe.Int64(1)},
		}
		params.Metadata["pack"] = req.Pack
		params.Metadata["credits"] = strconv.Itoa(pack.Credits)
	case "subscription":
		priceID := conf().Stripe.PlanPrices[string(req.Plan)]
		if !req.Plan.Valid() || req.Plan == models.PlanFree || priceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plan"})
			return
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		}
		params.Metadata["plan"] = string(req.Plan)
		params.Metadata["credits"] = strconv.Itoa(allowanceFor(req.Plan))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": p.UserID},
		}
	}

	customerID, err := ensureStripeCustomer(c.Request.Context(), p)
	if err != nil {
		logger.Get().Error("ensureStripeCustomer failed", zap.String("user_id", p.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare billing"})
		return
	}
	params.Customer = stripe.String(customerID)
	params.Context = c.Request.Context()

	sess, err := newCheckoutSession(params)
	if err != nil {
		logger.Get().Error("stripe checkout session failed", zap.String("user_id", p.UserID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL, "id": sess.ID})
}

// CreatePortalSession creates a Stripe Customer Portal session.
func CreatePortalSession(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}
	if p.StripeCustomerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no billing account yet"})
		return
	}

	frontendURL := strings.TrimRight(conf().Stripe.FrontendURL, "/")
	if frontendURL == "" {
		logger.Get().Error("missing Stripe config: frontend_url")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(p.StripeCustomerID),
		ReturnURL: stripe.String(frontendURL + "/settings/billing"),
	}
	params.Context = c.Request.Context()

	sess, err := newPortalSession(params)
	if err != nil {
		logger.Get().Error("stripe portal session failed", zap.String("user_id", p.UserID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to create portal session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}

// StripeWebhook verifies and applies Stripe billing events. Each event id
// is processed at most once; a failed event releases its claim so the
// Stripe retry runs it again.
func StripeWebhook(c *gin.Context) {
	const maxBodyBytes = int64(65536)
	log := logger.Get()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	endpointSecret := conf().Stripe.WebhookSecret
	if endpointSecret == "" {
		log.Error("stripe webhook secret missing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		c.GetHeader("Stripe-Signature"),
		endpointSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		log.Warn("stripe webhook signature failed", zap.Error(err))
		webhookEvents.WithLabelValues("stripe", "unknown", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	ctx := c.Request.Context()
	eventType := string(event.Type)

	claimed, err := claimStripeEvent(ctx, event.ID, eventType)
	if err != nil {
		log.Error("stripe event claim failed", zap.String("event_id", event.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record event"})
		return
	}
	if !claimed {
		webhookEvents.WithLabelValues("stripe", eventType, "duplicate").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	if err := handleStripeEvent(ctx, event); err != nil {
		log.Error("stripe event failed",
			zap.String("event_id", event.ID),
			zap.String("type", eventType),
			zap.Error(err),
		)
		if rerr := releaseStripeEvent(context.WithoutCancel(ctx), event.ID); rerr != nil {
			log.Error("stripe event release failed", zap.String("event_id", event.ID), zap.Error(rerr))
		}
		webhookEvents.WithLabelValues("stripe", eventType, "error").Inc()
		if errors.Is(err, errInvalidStripePayload) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	webhookEvents.WithLabelValues("stripe", eventType, "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func handleStripeEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("%w: checkout session", errInvalidStripePayload)
		}
		return handleCheckoutCompleted(ctx, &sess)
	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("%w: invoice", errInvalidStripePayload)
		}
		return handleInvoicePaid(ctx, &inv)
	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("%w: subscription", errInvalidStripePayload)
		}
		return handleSubscriptionChange(ctx, event, &sub)
	default:
		// Other event types are acknowledged without action.
		return nil
	}
}

func handleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	userID := sess.Metadata["user_id"]
	if userID == "" {
		userID = sess.ClientReferenceID
	}
	if userID == "" {
		p, err := profileForCustomer(ctx, sess.Customer)
		if err != nil {
			return err
		}
		userID = p.UserID
	}

	switch sess.Mode {
	case stripe.CheckoutSessionModePayment:
		if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			logger.Get().Info("checkout not paid yet",
				zap.String("session_id", sess.ID),
				zap.String("payment_status", string(sess.PaymentStatus)),
			)
			return nil
		}
		credits, err := strconv.Atoi(sess.Metadata["credits"])
		if err != nil || credits <= 0 {
			return fmt.Errorf("%w: credits metadata %q", errInvalidStripePayload, sess.Metadata["credits"])
		}
		p, err := AddTopupCredits(ctx, userID, credits, sess.ID)
		if err != nil {
			return err
		}
		notifyPurchase(ctx, p, credits)
		return nil
	case stripe.CheckoutSessionModeSubscription:
		plan := models.Plan(sess.Metadata["plan"])
		if !plan.Valid() {
			return fmt.Errorf("%w: plan metadata %q", errInvalidStripePayload, plan)
		}
		subscriptionID := ""
		if sess.Subscription != nil {
			subscriptionID = sess.Subscription.ID
		}
		_, err := ChangePlan(ctx, userID, plan, actorStripe, sess.ID, subscriptionID)
		return err
	default:
		return nil
	}
}

func handleInvoicePaid(ctx context.Context, inv *stripe.Invoice) error {
	if inv.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
		return nil
	}
	p, err := profileForCustomer(ctx, inv.Customer)
	if errors.Is(err, sql.ErrNoRows) {
		logger.Get().Warn("invoice for unknown customer", zap.String("invoice_id", inv.ID))
		return nil
	}
	if err != nil {
		return err
	}
	_, err = RenewAllowance(ctx, p.UserID, inv.ID)
	return err
}

func handleSubscriptionChange(ctx context.Context, event stripe.Event, sub *stripe.Subscription) error {
	p, err := profileForCustomer(ctx, sub.Customer)
	if errors.Is(err, sql.ErrNoRows) {
		logger.Get().Warn("subscription for unknown customer", zap.String("subscription_id", sub.ID))
		return nil
	}
	if err != nil {
		return err
	}

	plan := models.PlanFree
	if event.Type == "customer.subscription.updated" &&
		sub.Status != stripe.SubscriptionStatusCanceled &&
		sub.Status != stripe.SubscriptionStatusUnpaid {
		priceID := ""
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			priceID = sub.Items.Data[0].Price.ID
		}
		mapped, ok := planForPrice(priceID)
		if !ok {
			logger.Get().Warn("subscription price not mapped to a plan",
				zap.String("subscription_id", sub.ID),
				zap.String("price_id", priceID),
			)
			return nil
		}
		plan = mapped
	}

	_, err = ChangePlan(ctx, p.UserID, plan, actorStripe, event.ID, sub.ID)
	return err
}

func profileForCustomer(ctx context.Context, cust *stripe.Customer) (models.Profile, error) {
	if cust == nil || cust.ID == "" {
		return models.Profile{}, fmt.Errorf("%w: missing customer id", errInvalidStripePayload)
	}
	return getProfileByStripeCustomer(ctx, cust.ID)
}

// claimStripeEvent records the event id. It reports false when the event
// was already claimed.
func claimStripeEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	if db == nil {
		return false, errDBNotInitialized
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO stripe_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING;
	`, eventID, eventType)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func releaseStripeEvent(ctx context.Context, eventID string) error {
	if db == nil {
		return errDBNotInitialized
	}
	_, err := db.ExecContext(ctx, `DELETE FROM stripe_events WHERE event_id = $1;`, eventID)
	return err
}
