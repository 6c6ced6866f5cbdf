package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/quickbooks"
)

const (
	syncTimeout       = time.Minute
	unknownVendorName = "Unknown vendor"
)

var errQuickBooksNotConnected = errors.New("quickbooks not connected")

// QuickBooksConnect returns the Intuit authorize URL for the caller.
func QuickBooksConnect(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}
	if qbOAuth == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quickbooks not configured"})
		return
	}

	state := uuid.NewString()
	if err := states.Save(c.Request.Context(), state, p.UserID, oauthStateTTL); err != nil {
		logger.Get().Error("oauth state save failed", zap.String("user_id", p.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start connection"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": qbOAuth.AuthCodeURL(state)})
}

// QuickBooksCallback completes the OAuth flow and redirects to the frontend.
// It is public; the state token identifies the user.
func QuickBooksCallback(c *gin.Context) {
	log := logger.Get()
	redirect := func(result string) {
		base := strings.TrimRight(conf().Stripe.FrontendURL, "/")
		c.Redirect(http.StatusFound, base+"/settings/integrations?quickbooks="+result)
	}

	if qbOAuth == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quickbooks not configured"})
		return
	}
	if e := c.Query("error"); e != "" {
		log.Info("quickbooks authorization declined", zap.String("error", e))
		redirect("denied")
		return
	}

	code, state, realmID := c.Query("code"), c.Query("state"), c.Query("realmId")
	if code == "" || state == "" || realmID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code, state or realmId"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()

	userID, err := states.Consume(ctx, state)
	if err != nil {
		log.Warn("oauth state rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
		return
	}

	tok, err := qbOAuth.Exchange(ctx, code)
	if err != nil {
		log.Error("quickbooks exchange failed", zap.String("user_id", userID), zap.Error(err))
		redirect("error")
		return
	}
	err = saveQuickBooksTokens(ctx, userID, models.QuickBooksConnection{
		RealmID:        realmID,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		TokenExpiresAt: tok.Expiry,
	})
	if err != nil {
		log.Error("quickbooks token save failed", zap.String("user_id", userID), zap.Error(err))
		redirect("error")
		return
	}

	log.Info("quickbooks connected", zap.String("user_id", userID), zap.String("realm_id", realmID))
	redirect("connected")
}

func QuickBooksStatus(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, quickBooksStatus(p))
}

func quickBooksStatus(p models.Profile) gin.H {
	out := gin.H{"connected": p.QuickBooks.Connected()}
	if p.QuickBooks.Connected() {
		out["realmId"] = p.QuickBooks.RealmID
	}
	return out
}

// QuickBooksDisconnect revokes the refresh token (best effort) and forgets it.
func QuickBooksDisconnect(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()

	if qbOAuth != nil && p.QuickBooks.RefreshToken != "" {
		start := time.Now()
		err := qbOAuth.Revoke(ctx, p.QuickBooks.RefreshToken)
		recordAPICall(ctx, models.ApiLog{
			UserID:       p.UserID,
			Provider:     "quickbooks",
			Operation:    "token.revoke",
			Status:       apiCallStatus(err),
			DurationMS:   durationMS(time.Since(start)),
			ErrorMessage: errorText(err),
		})
		if err != nil {
			logger.Get().Warn("quickbooks revoke failed", zap.String("user_id", p.UserID), zap.Error(err))
		}
	}

	if err := clearQuickBooksTokens(ctx, p.UserID); err != nil {
		logger.Get().Error("quickbooks token clear failed", zap.String("user_id", p.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to disconnect"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": false})
}

// SyncDocument pushes a completed document to QuickBooks as a Bill.
func SyncDocument(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), syncTimeout)
	defer cancel()

	doc, ok := ownedDocument(ctx, c, p.UserID)
	if !ok {
		return
	}
	if doc.SyncStatus == models.SyncSynced {
		c.JSON(http.StatusConflict, gin.H{"error": "document already synced", "qbBillId": doc.QBBillID})
		return
	}
	if doc.Status != models.DocumentCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "document extraction is not completed"})
		return
	}
	if qbOAuth == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quickbooks not configured"})
		return
	}
	if !p.QuickBooks.Connected() {
		c.JSON(http.StatusBadRequest, gin.H{"error": errQuickBooksNotConnected.Error()})
		return
	}

	log := logger.Get().With(zap.String("user_id", p.UserID), zap.String("document_id", doc.ID))

	billID, err := syncBill(ctx, p, doc)
	if err != nil {
		log.Warn("quickbooks sync failed", zap.Error(err))
		quickBooksSyncs.WithLabelValues(string(models.SyncFailed)).Inc()
		if merr := markDocumentSyncFailed(context.WithoutCancel(ctx), doc.ID, err.Error()); merr != nil {
			log.Error("sync status update failed", zap.Error(merr))
		}
		status := http.StatusBadGateway
		if errors.Is(err, quickbooks.ErrNoAmount) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": "quickbooks sync failed: " + err.Error()})
		return
	}

	if err := markDocumentSynced(context.WithoutCancel(ctx), doc.ID, billID); err != nil {
		// the bill exists; surface the id so it is not created twice
		log.Error("sync status update failed", zap.String("bill_id", billID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bill created but not recorded", "qbBillId": billID})
		return
	}
	quickBooksSyncs.WithLabelValues(string(models.SyncSynced)).Inc()
	log.Info("document synced", zap.String("bill_id", billID))

	now := time.Now().UTC()
	doc.SyncStatus = models.SyncSynced
	doc.QBBillID = billID
	doc.SyncError = ""
	doc.SyncedAt = &now
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

// syncBill resolves the vendor and expense account and creates the Bill.
func syncBill(ctx context.Context, p models.Profile, doc models.Document) (string, error) {
	note := "Imported from " + doc.FileName
	if _, err := quickbooks.BuildBill(doc.ExtractedFields, "", "", note); err != nil {
		return "", err
	}

	client, err := quickBooksClient(ctx, p, doc.ID)
	if err != nil {
		return "", err
	}

	vendorName := strings.TrimSpace(doc.VendorName)
	if vendorName == "" {
		vendorName = unknownVendorName
	}
	vendor, created, err := client.EnsureVendor(ctx, vendorName)
	if err != nil {
		return "", err
	}
	if created {
		logger.Get().Info("quickbooks vendor created", zap.String("vendor", vendorName), zap.String("vendor_id", vendor.ID))
	}

	accountID := conf().QuickBooks.ExpenseAccountID
	if accountID == "" {
		acct, err := client.FirstExpenseAccount(ctx)
		if err != nil {
			return "", err
		}
		accountID = acct.ID
	}

	bill, err := quickbooks.BuildBill(doc.ExtractedFields, vendor.ID, accountID, note)
	if err != nil {
		return "", err
	}
	out, err := client.CreateBill(ctx, bill)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// quickBooksClient refreshes the access token when needed, persists
// rotated tokens and returns a client that logs every call.
func quickBooksClient(ctx context.Context, p models.Profile, documentID string) (*quickbooks.Client, error) {
	conn := p.QuickBooks
	tok := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       conn.TokenExpiresAt,
	}

	start := time.Now()
	fresh, err := qbOAuth.Refresh(ctx, tok)
	if err != nil {
		recordAPICall(ctx, models.ApiLog{
			UserID:       p.UserID,
			DocumentID:   documentID,
			Provider:     "quickbooks",
			Operation:    "token.refresh",
			Status:       apiCallStatus(err),
			DurationMS:   durationMS(time.Since(start)),
			ErrorMessage: errorText(err),
		})
		return nil, err
	}
	if fresh.AccessToken != conn.AccessToken || fresh.RefreshToken != conn.RefreshToken {
		recordAPICall(ctx, models.ApiLog{
			UserID:     p.UserID,
			DocumentID: documentID,
			Provider:   "quickbooks",
			Operation:  "token.refresh",
			Status:     apiCallStatus(nil),
			DurationMS: durationMS(time.Since(start)),
		})
		refreshToken := fresh.RefreshToken
		if refreshToken == "" {
			refreshToken = conn.RefreshToken
		}
		err := saveQuickBooksTokens(ctx, p.UserID, models.QuickBooksConnection{
			RealmID:        conn.RealmID,
			AccessToken:    fresh.AccessToken,
			RefreshToken:   refreshToken,
			TokenExpiresAt: fresh.Expiry,
		})
		if err != nil {
			return nil, err
		}
	}

	onCall := func(operation string, took time.Duration, err error) {
		recordAPICall(ctx, models.ApiLog{
			UserID:       p.UserID,
			DocumentID:   documentID,
			Provider:     "quickbooks",
			Operation:    operation,
			Status:       apiCallStatus(err),
			DurationMS:   durationMS(took),
			ErrorMessage: errorText(err),
		})
	}
	return quickbooks.NewClient(qbOAuth.HTTPClient(ctx, fresh), qbBaseURL, conn.RealmID, onCall), nil
}
