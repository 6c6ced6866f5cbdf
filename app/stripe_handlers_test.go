package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
)

func stripeEventPayload(t *testing.T, id, eventType string, object map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": "2024-06-20",
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func postStripeEvent(t *testing.T, payload []byte, secret string) *httptest.ResponseRecorder {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})

	r := newTestRouter("", http.MethodPost, "/api/webhooks/stripe", StripeWebhook)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signed.Header)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func expectStripeClaim(mock sqlmock.Sqlmock, eventID, eventType string, rows int64) {
	mock.ExpectExec(`INSERT INTO stripe_events`).
		WithArgs(eventID, eventType).
		WillReturnResult(sqlmock.NewResult(0, rows))
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	useTestConfig(t)
	useMockDB(t)

	payload := stripeEventPayload(t, "evt_1", "invoice.paid", map[string]any{"id": "in_1", "object": "invoice"})
	w := postStripeEvent(t, payload, "whsec_wrong")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStripeWebhookSkipsDuplicateEvent(t *testing.T) {
	cfg := useTestConfig(t)
	mock := useMockDB(t)
	expectStripeClaim(mock, "evt_dup", "invoice.paid", 0)

	payload := stripeEventPayload(t, "evt_dup", "invoice.paid", map[string]any{"id": "in_1", "object": "invoice"})
	w := postStripeEvent(t, payload, cfg.Stripe.WebhookSecret)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "duplicate") {
		t.Fatalf("expected duplicate status, got %s", w.Body.String())
	}
}

func TestStripeWebhookCreditsPaidCheckout(t *testing.T) {
	cfg := useTestConfig(t)
	mock := useMockDB(t)
	p := models.Profile{UserID: "user_1", CreditsTopupRemaining: 2, LowCreditAlertSent: true}

	expectStripeClaim(mock, "evt_pay", "checkout.session.completed", 1)
	mock.ExpectBegin()
	expectProfileLock(mock, p)
	mock.ExpectExec(`UPDATE profiles\s+SET credits_allowance_remaining`).
		WithArgs(0, 27, 27, false, "user_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO credit_logs`).
		WithArgs("user_1", 25, "purchase", 0, 27, 27, actorStripe, "cs_1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	payload := stripeEventPayload(t, "evt_pay", "checkout.session.completed", map[string]any{
		"id":             "cs_1",
		"object":         "checkout.session",
		"mode":           "payment",
		"payment_status": "paid",
		"metadata":       map[string]string{"user_id": "user_1", "pack": "small", "credits": "25"},
	})
	w := postStripeEvent(t, payload, cfg.Stripe.WebhookSecret)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestStripeWebhookIgnoresUnpaidCheckout(t *testing.T) {
	cfg := useTestConfig(t)
	mock := useMockDB(t)
	expectStripeClaim(mock, "evt_unpaid", "checkout.session.completed", 1)

	payload := stripeEventPayload(t, "evt_unpaid", "checkout.session.completed", map[string]any{
		"id":             "cs_2",
		"object":         "checkout.session",
		"mode":           "payment",
		"payment_status": "unpaid",
		"metadata":       map[string]string{"user_id": "user_1", "credits": "25"},
	})
	w := postStripeEvent(t, payload, cfg.Stripe.WebhookSecret)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestStripeWebhookReleasesClaimOnFailure(t *testing.T) {
	cfg := useTestConfig(t)
	mock := useMockDB(t)
	expectStripeClaim(mock, "evt_bad", "checkout.session.completed", 1)
	mock.ExpectExec(`DELETE FROM stripe_events`).
		WithArgs("evt_bad").
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := stripeEventPayload(t, "evt_bad", "checkout.session.completed", map[string]any{
		"id":             "cs_3",
		"object":         "checkout.session",
		"mode":           "payment",
		"payment_status": "paid",
		"metadata":       map[string]string{"user_id": "user_1", "credits": "lots"},
	})
	w := postStripeEvent(t, payload, cfg.Stripe.WebhookSecret)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestStripeWebhookRenewsOnSubscriptionCycle(t *testing.T) {
	cfg := useTestConfig(t)
	mock := useMockDB(t)
	p := models.Profile{UserID: "user_1", Plan: models.PlanPro, StripeCustomerID: "cus_1", CreditsAllowanceRemaining: 3}

	expectStripeClaim(mock, "evt_inv", "invoice.paid", 1)
	mock.ExpectQuery(`FROM profiles\s+WHERE stripe_customer_id = \$1`).
		WithArgs("cus_1").
		WillReturnRows(profileRow(p))
	mock.ExpectBegin()
	expectProfileLock(mock, p)
	expectLedgerWrite(mock, "user_1", Balance{Allowance: 500}, false, 497, models.ReasonRenewal)
	mock.ExpectCommit()

	payload := stripeEventPayload(t, "evt_inv", "invoice.paid", map[string]any{
		"id":             "in_2",
		"object":         "invoice",
		"billing_reason": "subscription_cycle",
		"customer":       "cus_1",
	})
	w := postStripeEvent(t, payload, cfg.Stripe.WebhookSecret)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestStripeWebhookFirstInvoiceDoesNotRenew(t *testing.T) {
	cfg := useTestConfig(t)
	mock := useMockDB(t)
	expectStripeClaim(mock, "evt_first", "invoice.paid", 1)

	payload := stripeEventPayload(t, "evt_first", "invoice.paid", map[string]any{
		"id":             "in_3",
		"object":         "invoice",
		"billing_reason": "subscription_create",
		"customer":       "cus_1",
	})
	w := postStripeEvent(t, payload, cfg.Stripe.WebhookSecret)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestPlanForPrice(t *testing.T) {
	useTestConfig(t)

	if plan, ok := planForPrice("price_pro"); !ok || plan != models.PlanPro {
		t.Fatalf("planForPrice(price_pro) = %q, %t", plan, ok)
	}
	if _, ok := planForPrice("price_unknown"); ok {
		t.Fatalf("unknown price must not map to a plan")
	}
	if _, ok := planForPrice(""); ok {
		t.Fatalf("empty price must not map to a plan")
	}
}

func TestCreateCheckoutSessionForCreditPack(t *testing.T) {
	useTestConfig(t)
	mock := useMockDB(t)
	expectProfileLoad(mock, models.Profile{UserID: "user_1", Email: "a@example.com"})
	mock.ExpectExec(`SET stripe_customer_id = \$1`).
		WithArgs("cus_new", "user_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	prevCustomer, prevSession := createStripeCustomer, newCheckoutSession
	t.Cleanup(func() { createStripeCustomer, newCheckoutSession = prevCustomer, prevSession })

	createStripeCustomer = func(params *stripe.CustomerParams) (*stripe.Customer, error) {
		if params.Metadata["user_id"] != "user_1" || stripe.StringValue(params.Email) != "a@example.com" {
			t.Errorf("unexpected customer params %+v", params)
		}
		return &stripe.Customer{ID: "cus_new"}, nil
	}
	var got *stripe.CheckoutSessionParams
	newCheckoutSession = func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		got = params
		return &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}, nil
	}

	r := newTestRouter("user_1", http.MethodPost, "/api/billing/checkout", CreateCheckoutSession)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/billing/checkout", strings.NewReader(`{"kind":"credits","pack":"small"}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if got == nil {
		t.Fatalf("checkout session was not created")
	}
	if stripe.StringValue(got.Mode) != "payment" || stripe.StringValue(got.Customer) != "cus_new" {
		t.Fatalf("unexpected session params mode=%s customer=%s", stripe.StringValue(got.Mode), stripe.StringValue(got.Customer))
	}
	if got.Metadata["credits"] != "25" || got.Metadata["user_id"] != "user_1" {
		t.Fatalf("unexpected metadata %v", got.Metadata)
	}
	if stripe.StringValue(got.LineItems[0].Price) != "price_small" {
		t.Fatalf("unexpected price %s", stripe.StringValue(got.LineItems[0].Price))
	}
}

func TestCreateCheckoutSessionRejectsUnknownPlan(t *testing.T) {
	useTestConfig(t)
	mock := useMockDB(t)
	expectProfileLoad(mock, models.Profile{UserID: "user_1"})

	r := newTestRouter("user_1", http.MethodPost, "/api/billing/checkout", CreateCheckoutSession)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/billing/checkout", strings.NewReader(`{"kind":"subscription","plan":"free"}`)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreatePortalSessionRequiresCustomer(t *testing.T) {
	useTestConfig(t)
	mock := useMockDB(t)
	expectProfileLoad(mock, models.Profile{UserID: "user_1"})

	r := newTestRouter("user_1", http.MethodPost, "/api/billing/portal", CreatePortalSession)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/billing/portal", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStripeWebhookSubscriptionCheckoutChangesPlan(t *testing.T) {
	cfg := useTestConfig(t)
	mock := useMockDB(t)
	p := models.Profile{UserID: "user_1", Plan: models.PlanFree, CreditsTopupRemaining: 5}

	expectStripeClaim(mock, "evt_sub", "checkout.session.completed", 1)
	mock.ExpectBegin()
	expectProfileLock(mock, p)
	mock.ExpectExec(`SET plan_type = \$1`).
		WithArgs("starter", "sub_9", "user_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO plan_change_logs`).
		WithArgs("user_1", "free", "starter", actorStripe, "cs_sub").
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectLedgerWrite(mock, "user_1", Balance{Allowance: 100, Topup: 5}, false, 100, models.ReasonPlanChange)
	mock.ExpectCommit()

	payload := stripeEventPayload(t, "evt_sub", "checkout.session.completed", map[string]any{
		"id":             "cs_sub",
		"object":         "checkout.session",
		"mode":           "subscription",
		"payment_status": "paid",
		"subscription":   "sub_9",
		"metadata":       map[string]string{"user_id": "user_1", "plan": "starter", "credits": "100"},
	})
	w := postStripeEvent(t, payload, cfg.Stripe.WebhookSecret)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestStripeWebhookSubscriptionDowngradesToFree(t *testing.T) {
	cases := []struct {
		name      string
		eventType string
		status    string
	}{
		{"updated canceled", "customer.subscription.updated", "canceled"},
		{"updated unpaid", "customer.subscription.updated", "unpaid"},
		{"deleted", "customer.subscription.deleted", "active"},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := useTestConfig(t)
			mock := useMockDB(t)
			eventID := "evt_down_" + strconv.Itoa(i)
			p := models.Profile{
				UserID:                    "user_1",
				Plan:                      models.PlanPro,
				StripeCustomerID:          "cus_1",
				StripeSubscriptionID:      "sub_1",
				CreditsAllowanceRemaining: 200,
				CreditsTopupRemaining:     10,
			}

			expectStripeClaim(mock, eventID, tc.eventType, 1)
			mock.ExpectQuery(`FROM profiles\s+WHERE stripe_customer_id = \$1`).
				WithArgs("cus_1").
				WillReturnRows(profileRow(p))
			mock.ExpectBegin()
			expectProfileLock(mock, p)
			mock.ExpectExec(`SET plan_type = \$1`).
				WithArgs("free", nil, "user_1").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`INSERT INTO plan_change_logs`).
				WithArgs("user_1", "pro", "free", actorStripe, eventID).
				WillReturnResult(sqlmock.NewResult(1, 1))
			expectLedgerWrite(mock, "user_1", Balance{Topup: 10}, false, -200, models.ReasonPlanChange)
			mock.ExpectCommit()

			payload := stripeEventPayload(t, eventID, tc.eventType, map[string]any{
				"id":       "sub_1",
				"object":   "subscription",
				"status":   tc.status,
				"customer": "cus_1",
			})
			w := postStripeEvent(t, payload, cfg.Stripe.WebhookSecret)

			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
			}
		})
	}
}

func subscriptionWithPrice(status, priceID string) map[string]any {
	return map[string]any{
		"id":       "sub_1",
		"object":   "subscription",
		"status":   status,
		"customer": "cus_1",
		"items": map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "si_1", "object": "subscription_item", "price": map[string]any{"id": priceID, "object": "price"}},
			},
		},
	}
}

func TestStripeWebhookSubscriptionUpgrade(t *testing.T) {
	cfg := useTestConfig(t)
	mock := useMockDB(t)
	p := models.Profile{UserID: "user_1", Plan: models.PlanStarter, StripeCustomerID: "cus_1", CreditsAllowanceRemaining: 40}

	expectStripeClaim(mock, "evt_up", "customer.subscription.updated", 1)
	mock.ExpectQuery(`FROM profiles\s+WHERE stripe_customer_id = \$1`).
		WithArgs("cus_1").
		WillReturnRows(profileRow(p))
	mock.ExpectBegin()
	expectProfileLock(mock, p)
	mock.ExpectExec(`SET plan_type = \$1`).
		WithArgs("pro", "sub_1", "user_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO plan_change_logs`).
		WithArgs("user_1", "starter", "pro", actorStripe, "evt_up").
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectLedgerWrite(mock, "user_1", Balance{Allowance: 500}, false, 460, models.ReasonPlanChange)
	mock.ExpectCommit()

	payload := stripeEventPayload(t, "evt_up", "customer.subscription.updated", subscriptionWithPrice("active", "price_pro"))
	w := postStripeEvent(t, payload, cfg.Stripe.WebhookSecret)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestStripeWebhookSubscriptionUnmappedPriceIsIgnored(t *testing.T) {
	cfg := useTestConfig(t)
	mock := useMockDB(t)

	expectStripeClaim(mock, "evt_odd", "customer.subscription.updated", 1)
	mock.ExpectQuery(`FROM profiles\s+WHERE stripe_customer_id = \$1`).
		WithArgs("cus_1").
		WillReturnRows(profileRow(models.Profile{UserID: "user_1", Plan: models.PlanStarter, StripeCustomerID: "cus_1"}))

	payload := stripeEventPayload(t, "evt_odd", "customer.subscription.updated", subscriptionWithPrice("active", "price_legacy"))
	w := postStripeEvent(t, payload, cfg.Stripe.WebhookSecret)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
}
