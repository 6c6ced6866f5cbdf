package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/quickbooks"
)

func useQuickBooks(t *testing.T, tokenURL string) *memoryStateStore {
	t.Helper()
	prevOAuth, prevStates := qbOAuth, states
	qbOAuth = quickbooks.NewOAuth(quickbooks.OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://api.example.com/api/quickbooks/callback",
		TokenURL:     tokenURL,
	})
	mem := newMemoryStateStore()
	states = mem
	t.Cleanup(func() { qbOAuth, states = prevOAuth, prevStates })
	return mem
}

func serveCallback(query string) *httptest.ResponseRecorder {
	r := newTestRouter("", http.MethodGet, "/api/quickbooks/callback", QuickBooksCallback)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/quickbooks/callback?"+query, nil))
	return w
}

func TestQuickBooksCallbackStoresTokens(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokens.Close()

	useTestConfig(t)
	mem := useQuickBooks(t, tokens.URL)
	mock := useMockDB(t)
	_ = mem.Save(context.Background(), "state-1", "user_1", time.Minute)

	mock.ExpectExec(`SET qb_realm_id = \$1`).
		WithArgs("realm-9", "at-1", "rt-1", sqlmock.AnyArg(), "user_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := serveCallback("code=abc&state=state-1&realmId=realm-9")
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != "https://app.example.com/settings/integrations?quickbooks=connected" {
		t.Fatalf("unexpected redirect %q", got)
	}
}

func TestQuickBooksCallbackRejectsUnknownState(t *testing.T) {
	useTestConfig(t)
	useQuickBooks(t, "http://127.0.0.1:1/token")
	useMockDB(t)

	w := serveCallback("code=abc&state=forged&realmId=realm-9")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestQuickBooksCallbackDenied(t *testing.T) {
	useTestConfig(t)
	useQuickBooks(t, "http://127.0.0.1:1/token")

	w := serveCallback("error=access_denied&state=state-1")
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	if got := w.Header().Get("Location"); got != "https://app.example.com/settings/integrations?quickbooks=denied" {
		t.Fatalf("unexpected redirect %q", got)
	}
}

func TestSyncDocumentPreconditions(t *testing.T) {
	useTestConfig(t)
	useQuickBooks(t, "http://127.0.0.1:1/token")
	mock := useMockDB(t)

	cases := []struct {
		name   string
		status models.DocumentStatus
		want   int
	}{
		{"still processing", models.DocumentProcessing, http.StatusConflict},
		{"not connected", models.DocumentCompleted, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := processingDocument(uuid.NewString())
			doc.Status = tc.status
			expectProfileLoad(mock, models.Profile{UserID: "user_1"})
			mock.ExpectQuery(`FROM documents\s+WHERE id = \$1 AND user_id = \$2`).
				WithArgs(doc.ID, "user_1").
				WillReturnRows(documentRows(doc))

			r := newTestRouter("user_1", http.MethodPost, "/api/documents/:id/sync", SyncDocument)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/documents/"+doc.ID+"/sync", nil))
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d body=%s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestQuickBooksStatus(t *testing.T) {
	out := quickBooksStatus(models.Profile{QuickBooks: models.QuickBooksConnection{RealmID: "r1", RefreshToken: "rt"}})
	if out["connected"] != true || out["realmId"] != "r1" {
		t.Fatalf("unexpected status %v", out)
	}
	out = quickBooksStatus(models.Profile{})
	if out["connected"] != false {
		t.Fatalf("unexpected status %v", out)
	}
	if _, ok := out["realmId"]; ok {
		t.Fatalf("realmId must be omitted when disconnected")
	}
}

func expectQuickBooksCall(mock sqlmock.Sqlmock, operation string) {
	mock.ExpectExec(`INSERT INTO api_logs`).
		WithArgs("user_1", sqlmock.AnyArg(), "quickbooks", operation, "ok",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestSyncDocumentCreatesBill(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-2","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokens.Close()

	var postedBill quickbooks.Bill
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-2" {
			t.Errorf("Authorization = %q", got)
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v3/company/realm-9/query":
			if strings.Contains(r.URL.Query().Get("query"), "from Vendor") {
				_, _ = w.Write([]byte(`{"QueryResponse":{"Vendor":[{"Id":"56","DisplayName":"Acme Supplies"}]}}`))
				return
			}
			_, _ = w.Write([]byte(`{"QueryResponse":{"Account":[{"Id":"7","Name":"Office Expenses","AccountType":"Expense"}]}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v3/company/realm-9/bill":
			_ = json.NewDecoder(r.Body).Decode(&postedBill)
			_, _ = w.Write([]byte(`{"Bill":{"Id":"bill-77"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer api.Close()

	useTestConfig(t)
	useQuickBooks(t, tokens.URL)
	prevBase := qbBaseURL
	qbBaseURL = api.URL
	t.Cleanup(func() { qbBaseURL = prevBase })
	mock := useMockDB(t)

	p := models.Profile{UserID: "user_1", QuickBooks: models.QuickBooksConnection{
		RealmID:        "realm-9",
		AccessToken:    "at-1",
		RefreshToken:   "rt-1",
		TokenExpiresAt: time.Now().Add(-time.Hour),
	}}
	doc := processingDocument(uuid.NewString())
	doc.Status = models.DocumentCompleted
	doc.ExtractedFields = invoiceResult().Fields

	expectProfileLoad(mock, p)
	mock.ExpectQuery(`FROM documents\s+WHERE id = \$1 AND user_id = \$2`).
		WithArgs(doc.ID, "user_1").
		WillReturnRows(documentRows(doc))
	expectQuickBooksCall(mock, "token.refresh")
	mock.ExpectExec(`SET qb_realm_id = \$1`).
		WithArgs("realm-9", "at-2", "rt-2", sqlmock.AnyArg(), "user_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectQuickBooksCall(mock, "vendor.query")
	expectQuickBooksCall(mock, "account.query")
	expectQuickBooksCall(mock, "bill.create")
	mock.ExpectExec(`SET sync_status = \$1, qb_bill_id = \$2`).
		WithArgs("synced", "bill-77", doc.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := newTestRouter("user_1", http.MethodPost, "/api/documents/:id/sync", SyncDocument)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/documents/"+doc.ID+"/sync", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if postedBill.VendorRef.Value != "56" {
		t.Fatalf("bill vendor = %+v", postedBill.VendorRef)
	}
	var resp struct {
		Document models.Document `json:"document"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Document.SyncStatus != models.SyncSynced || resp.Document.QBBillID != "bill-77" {
		t.Fatalf("unexpected document %+v", resp.Document)
	}

	t.Run("second sync conflicts", func(t *testing.T) {
		synced := doc
		synced.SyncStatus = models.SyncSynced
		synced.QBBillID = "bill-77"
		expectProfileLoad(mock, p)
		mock.ExpectQuery(`FROM documents\s+WHERE id = \$1 AND user_id = \$2`).
			WithArgs(doc.ID, "user_1").
			WillReturnRows(documentRows(synced))

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/documents/"+doc.ID+"/sync", nil))
		if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), "bill-77") {
			t.Fatalf("expected 409 with the bill id, got %d body=%s", w.Code, w.Body.String())
		}
	})
}
