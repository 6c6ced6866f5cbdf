package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

// SubmitReview creates or replaces the caller's review. An edited review
// goes back to moderation.
func SubmitReview(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}
	var req models.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rating must be 1-5 and comment at most 2000 characters"})
		return
	}

	r := models.Review{
		UserID:      p.UserID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Rating:      req.Rating,
		Comment:     strings.TrimSpace(req.Comment),
	}
	if r.DisplayName == "" {
		r.DisplayName = p.FullName
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := upsertReview(ctx, &r); err != nil {
		logger.Get().Error("review upsert failed", zap.String("user_id", p.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save review"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": r})
}

// ListReviews is public and returns approved reviews only.
func ListReviews(c *gin.Context) {
	limit, offset := pagination(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	reviews, err := listReviews(ctx, true, limit, offset)
	if err != nil {
		logger.Get().Error("list reviews failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load reviews"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews, "count": len(reviews)})
}

func upsertReview(ctx context.Context, r *models.Review) error {
	if db == nil {
		return errDBNotInitialized
	}
	return db.QueryRowContext(ctx, `
		INSERT INTO reviews (user_id, display_name, rating, comment, approved)
		VALUES ($1, $2, $3, $4, false)
		ON CONFLICT (user_id) DO UPDATE
		SET display_name = EXCLUDED.display_name, rating = EXCLUDED.rating,
			comment = EXCLUDED.comment, approved = false, created_at = now()
		RETURNING id, approved, created_at;
	`, r.UserID, nullIfEmpty(r.DisplayName), r.Rating, nullIfEmpty(r.Comment)).Scan(&r.ID, &r.Approved, &r.CreatedAt)
}

// listReviews returns newest first. approvedOnly false lists every review.
func listReviews(ctx context.Context, approvedOnly bool, limit, offset int) ([]models.Review, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(display_name, ''), rating, COALESCE(comment, ''), approved, created_at
		FROM reviews
		WHERE approved OR NOT $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
		OFFSET $3;
	`, approvedOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Review{}
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.UserID, &r.DisplayName, &r.Rating, &r.Comment, &r.Approved, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func setReviewApproved(ctx context.Context, id int64, approved bool) error {
	if db == nil {
		return errDBNotInitialized
	}
	res, err := db.ExecContext(ctx, `UPDATE reviews SET approved = $1 WHERE id = $2;`, approved, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func parseReviewID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid review id")
	}
	return id, nil
}
