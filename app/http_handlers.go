package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/extractor"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

const (
	maxUploadBytes = 15 << 20
	uploadTimeout  = 3 * time.Minute
	presignTTL     = 15 * time.Minute
)

// UploadDocument accepts one PDF, charges a credit and starts extraction.
func UploadDocument(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}
	log := logger.Get().With(zap.String("user_id", p.UserID))

	// room for the multipart envelope around the file
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds 15 MiB"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	if fh.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds 15 MiB"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	if len(data) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds 15 MiB"})
		return
	}
	if !isPDFUpload(data) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only PDF files are accepted"})
		return
	}
	if store == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), uploadTimeout)
	defer cancel()

	docID := uuid.NewString()
	if _, err := DeductCredits(ctx, p.UserID, extractionCost, docID); err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":            "insufficient credits",
				"creditsRemaining": p.CreditsRemaining,
			})
			return
		}
		log.Error("credit deduction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to charge credit"})
		return
	}

	doc := models.Document{
		ID:         docID,
		UserID:     p.UserID,
		FileName:   cleanFileName(fh.Filename),
		StorageKey: storageKey(p.UserID, docID),
		Status:     models.DocumentProcessing,
		SyncStatus: models.SyncNotSynced,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	doc.LineItems = []models.LineItem{}

	if err := store.Put(ctx, doc.StorageKey, data, "application/pdf"); err != nil {
		log.Error("document upload failed", zap.String("document_id", docID), zap.Error(err))
		refundUpload(ctx, p.UserID, docID)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to store file"})
		return
	}
	if err := insertDocument(ctx, doc); err != nil {
		log.Error("document insert failed", zap.String("document_id", docID), zap.Error(err))
		_ = store.Delete(context.WithoutCancel(ctx), doc.StorageKey)
		refundUpload(ctx, p.UserID, docID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save document"})
		return
	}

	if queue != nil {
		err := queue.Enqueue(ctx, models.ExtractionJob{
			DocumentID: doc.ID,
			UserID:     doc.UserID,
			StorageKey: doc.StorageKey,
		})
		if err == nil {
			c.JSON(http.StatusAccepted, gin.H{"document": doc})
			return
		}
		log.Warn("enqueue failed, extracting inline", zap.String("document_id", docID), zap.Error(err))
	}

	final, err := processDocument(ctx, doc)
	if err != nil {
		log.Error("inline extraction failed", zap.String("document_id", docID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process document"})
		return
	}
	if final.Status == models.DocumentFailed {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    final.ErrorMessage + "; your credit was refunded",
			"document": final,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": final})
}

func refundUpload(ctx context.Context, userID, documentID string) {
	if _, err := ReimburseCredit(context.WithoutCancel(ctx), userID, extractionCost, documentID); err != nil {
		logger.Get().Error("credit refund failed",
			zap.String("user_id", userID),
			zap.String("document_id", documentID),
			zap.Error(err),
		)
	}
}

// isPDFUpload checks both the sniffed content type and the PDF magic.
func isPDFUpload(data []byte) bool {
	return http.DetectContentType(data) == "application/pdf" && extractor.IsPDF(data)
}

func cleanFileName(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, `\`, "/")))
	if name == "" || name == "." || name == "/" {
		return "document.pdf"
	}
	if len(name) > 255 {
		name = name[len(name)-255:]
	}
	return name
}

// ListDocuments returns the caller's documents, newest first.
func ListDocuments(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	docs, err := listDocuments(ctx, p.UserID, limit, offset)
	if err != nil {
		logger.Get().Error("list documents failed", zap.String("user_id", p.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load documents"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"count":     len(docs),
		"limit":     limit,
		"offset":    offset,
	})
}

// ownedDocument loads :id for the caller. Unknown ids and other users'
// documents both answer 404.
func ownedDocument(ctx context.Context, c *gin.Context, userID string) (models.Document, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return models.Document{}, false
	}
	doc, err := getDocument(ctx, userID, id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return models.Document{}, false
	}
	if err != nil {
		logger.Get().Error("load document failed", zap.String("document_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load document"})
		return models.Document{}, false
	}
	return doc, true
}

func GetDocument(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	doc, ok := ownedDocument(ctx, c, p.UserID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

// UpdateDocument applies manual corrections to extracted fields.
func UpdateDocument(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}
	var req models.DocumentUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	doc, ok := ownedDocument(ctx, c, p.UserID)
	if !ok {
		return
	}
	if doc.Status == models.DocumentProcessing {
		c.JSON(http.StatusConflict, gin.H{"error": "document is still processing"})
		return
	}

	if err := applyDocumentUpdate(&doc, req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := saveDocumentFields(ctx, doc); err != nil {
		logger.Get().Error("update document failed", zap.String("document_id", doc.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update document"})
		return
	}
	if doc.SyncStatus != models.SyncSynced {
		doc.SyncStatus = models.SyncNotSynced
		doc.SyncError = ""
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func applyDocumentUpdate(doc *models.Document, req models.DocumentUpdate) error {
	if req.VendorName != nil {
		doc.VendorName = strings.TrimSpace(*req.VendorName)
	}
	if req.TotalAmount != nil {
		if req.TotalAmount.IsNegative() {
			return errors.New("totalAmount must not be negative")
		}
		doc.TotalAmount = nullDecimal(req.TotalAmount.Round(2))
	}
	if req.Currency != nil {
		cur := strings.ToUpper(strings.TrimSpace(*req.Currency))
		if cur != "" && len(cur) != 3 {
			return errors.New("currency must be a 3-letter code")
		}
		doc.Currency = cur
	}
	if req.InvoiceDate != nil {
		d := strings.TrimSpace(*req.InvoiceDate)
		if d != "" {
			if _, err := time.Parse("2006-01-02", d); err != nil {
				return errors.New("invoiceDate must be YYYY-MM-DD")
			}
		}
		doc.InvoiceDate = d
	}
	if req.InvoiceNumber != nil {
		doc.InvoiceNumber = strings.TrimSpace(*req.InvoiceNumber)
	}
	if req.LineItems != nil {
		doc.LineItems = *req.LineItems
		if doc.LineItems == nil {
			doc.LineItems = []models.LineItem{}
		}
	}
	return nil
}

// DeleteDocument removes the row and its stored PDF.
func DeleteDocument(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	doc, ok := ownedDocument(ctx, c, p.UserID)
	if !ok {
		return
	}
	if err := deleteDocumentRow(ctx, p.UserID, doc.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		logger.Get().Error("delete document failed", zap.String("document_id", doc.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete document"})
		return
	}
	if store != nil {
		if err := store.Delete(ctx, doc.StorageKey); err != nil {
			logger.Get().Warn("stored file delete failed", zap.String("key", doc.StorageKey), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// GetDocumentFile returns a short-lived download URL for the original PDF.
func GetDocumentFile(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	doc, ok := ownedDocument(ctx, c, p.UserID)
	if !ok {
		return
	}
	if store == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage not configured"})
		return
	}
	url, err := store.PresignGet(ctx, doc.StorageKey, presignTTL)
	if err != nil {
		logger.Get().Error("presign failed", zap.String("document_id", doc.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create download link"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":       url,
		"expiresAt": time.Now().Add(presignTTL).UTC(),
	})
}
