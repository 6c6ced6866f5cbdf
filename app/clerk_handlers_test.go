package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
)

// signSvix produces the headers Clerk sends through Svix.
func signSvix(t *testing.T, secret, msgID string, body []byte) http.Header {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msgID + "." + ts + "." + string(body)))

	h := http.Header{}
	h.Set("svix-id", msgID)
	h.Set("svix-timestamp", ts)
	h.Set("svix-signature", "v1,"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return h
}

func postClerkEvent(t *testing.T, body string, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()
	r := newTestRouter("", http.MethodPost, "/api/webhooks/clerk", ClerkWebhook)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/clerk", strings.NewReader(body))
	for k, v := range headers {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const clerkUserCreated = `{
	"type": "user.created",
	"data": {
		"id": "user_2abc",
		"first_name": "Ada",
		"last_name": "Lovelace",
		"primary_email_address_id": "idn_2",
		"email_addresses": [
			{"id": "idn_1", "email_address": "old@example.com"},
			{"id": "idn_2", "email_address": "ada@example.com"}
		]
	}
}`

func expectWelcomeClaim(mock sqlmock.Sqlmock, userID string, rows int64) {
	mock.ExpectExec(`SET welcome_email_sent = true`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, rows))
}

func TestClerkWebhookRejectsBadSignature(t *testing.T) {
	useTestConfig(t)
	useMockDB(t)

	headers := signSvix(t, "whsec_"+base64.StdEncoding.EncodeToString([]byte("some-other-secret")), "msg_1", []byte(clerkUserCreated))
	w := postClerkEvent(t, clerkUserCreated, headers)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestClerkWebhookUserCreatedSeedsCredits(t *testing.T) {
	cfg := useTestConfig(t)
	sent := useMailer(t)
	mock := useMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO profiles`).
		WithArgs("user_2abc", "ada@example.com", "Ada Lovelace", "free", 5, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO credit_logs`).
		WithArgs("user_2abc", 5, "welcome", 0, 5, 5, actorSystem, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectProfileLoad(mock, models.Profile{
		UserID:                "user_2abc",
		Email:                 "ada@example.com",
		FullName:              "Ada Lovelace",
		CreditsTopupRemaining: 5,
	})
	mock.ExpectCommit()
	expectWelcomeClaim(mock, "user_2abc", 1)

	headers := signSvix(t, cfg.Clerk.WebhookSecret, "msg_2", []byte(clerkUserCreated))
	w := postClerkEvent(t, clerkUserCreated, headers)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	msgs := sent.messages()
	if len(msgs) != 1 || msgs[0].To != "ada@example.com" {
		t.Fatalf("expected one welcome email, got %+v", msgs)
	}
}

func TestClerkWebhookUserCreatedAfterLazyProfile(t *testing.T) {
	cfg := useTestConfig(t)
	sent := useMailer(t)
	mock := useMockDB(t)

	// /api/me already created the profile from session claims without an email
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO profiles`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectProfileLoad(mock, models.Profile{UserID: "user_2abc", CreditsTopupRemaining: 5})
	mock.ExpectCommit()
	mock.ExpectExec(`SET email = COALESCE\(\$1, email\)`).
		WithArgs("ada@example.com", "Ada Lovelace", "user_2abc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectWelcomeClaim(mock, "user_2abc", 1)

	headers := signSvix(t, cfg.Clerk.WebhookSecret, "msg_5", []byte(clerkUserCreated))
	w := postClerkEvent(t, clerkUserCreated, headers)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	msgs := sent.messages()
	if len(msgs) != 1 || msgs[0].To != "ada@example.com" {
		t.Fatalf("expected one welcome email to the webhook address, got %+v", msgs)
	}
}

func TestClerkWebhookUserCreatedRedeliveryDoesNotResend(t *testing.T) {
	cfg := useTestConfig(t)
	sent := useMailer(t)
	mock := useMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO profiles`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectProfileLoad(mock, models.Profile{UserID: "user_2abc", Email: "ada@example.com", CreditsTopupRemaining: 5})
	mock.ExpectCommit()
	mock.ExpectExec(`SET email = COALESCE\(\$1, email\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectWelcomeClaim(mock, "user_2abc", 0)

	headers := signSvix(t, cfg.Clerk.WebhookSecret, "msg_6", []byte(clerkUserCreated))
	w := postClerkEvent(t, clerkUserCreated, headers)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if msgs := sent.messages(); len(msgs) != 0 {
		t.Fatalf("redelivered user.created must not resend the welcome email, got %+v", msgs)
	}
}

func TestClerkWebhookUserDeletedSoftDeletes(t *testing.T) {
	cfg := useTestConfig(t)
	mock := useMockDB(t)
	mock.ExpectExec(`SET deleted_at = COALESCE\(deleted_at, now\(\)\)`).
		WithArgs("user_2abc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"type":"user.deleted","data":{"id":"user_2abc","deleted":true}}`
	w := postClerkEvent(t, body, signSvix(t, cfg.Clerk.WebhookSecret, "msg_3", []byte(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestClerkWebhookUpdateBeforeCreate(t *testing.T) {
	cfg := useTestConfig(t)
	mock := useMockDB(t)

	mock.ExpectExec(`SET email = COALESCE\(\$1, email\)`).
		WithArgs("ada@example.com", "Ada", "user_2abc").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO profiles`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO credit_logs`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectProfileLoad(mock, models.Profile{UserID: "user_2abc", CreditsTopupRemaining: 5})
	mock.ExpectCommit()

	body := `{"type":"user.updated","data":{"id":"user_2abc","first_name":"Ada","primary_email_address_id":"idn_1","email_addresses":[{"id":"idn_1","email_address":"ada@example.com"}]}}`
	w := postClerkEvent(t, body, signSvix(t, cfg.Clerk.WebhookSecret, "msg_4", []byte(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestClerkUserDataHelpers(t *testing.T) {
	u := clerkUserData{
		Username:              "ada",
		PrimaryEmailAddressID: "idn_missing",
		EmailAddresses:        []clerkEmail{{ID: "idn_1", EmailAddress: "first@example.com"}},
	}
	if got := u.PrimaryEmail(); got != "first@example.com" {
		t.Fatalf("PrimaryEmail fallback = %q", got)
	}
	if got := u.FullName(); got != "ada" {
		t.Fatalf("FullName fallback = %q", got)
	}
}
