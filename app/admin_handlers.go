package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

const adminIDKey = "admin_user_id"

// RequireAdmin lets through callers listed in ADMIN_USER_IDS or flagged
// is_admin on their profile.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := currentProfile(c)
		if !ok {
			c.Abort()
			return
		}
		if !isAdmin(p) {
			logger.Get().Warn("admin access denied", zap.String("user_id", p.UserID), zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Set(adminIDKey, p.UserID)
		c.Next()
	}
}

func adminActor(c *gin.Context) string {
	return actorAdmin + ":" + c.GetString(adminIDKey)
}

func AdminListUsers(c *gin.Context) {
	limit, offset := pagination(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	users, err := ListProfiles(ctx, limit, offset)
	if err != nil {
		logger.Get().Error("admin list users failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users), "limit": limit, "offset": offset})
}

// AdminUpdateCredits sets or adjusts a user's balance.
func AdminUpdateCredits(c *gin.Context) {
	userID := c.Param("id")
	var req models.AdminCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	var (
		p   models.Profile
		err error
	)
	switch req.Action {
	case "set":
		p, err = AdminSetCredits(ctx, userID, req.Amount, adminActor(c), req.Reason)
	case "add":
		p, err = AdminAddCredits(ctx, userID, req.Amount, adminActor(c), req.Reason)
	}
	switch {
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	case err != nil:
		logger.Get().Error("admin credit update failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update credits"})
		return
	}

	logger.Get().Info("admin credit update",
		zap.String("admin", c.GetString(adminIDKey)),
		zap.String("user_id", userID),
		zap.String("action", req.Action),
		zap.Int("amount", req.Amount),
	)
	c.JSON(http.StatusOK, gin.H{"user": p})
}

// AdminChangePlan moves a user to a plan and resets their allowance.
func AdminChangePlan(c *gin.Context) {
	userID := c.Param("id")
	var req models.AdminPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Plan.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	current, err := getProfile(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}

	p, err := ChangePlan(ctx, userID, req.Plan, actorAdmin, adminActor(c), current.StripeSubscriptionID)
	if err != nil {
		logger.Get().Error("admin plan change failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to change plan"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": p})
}

func AdminCreditLogs(c *gin.Context) {
	limit, offset := pagination(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	logs, err := listCreditLogs(ctx, c.Query("user_id"), limit, offset)
	if err != nil {
		logger.Get().Error("admin credit logs failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load credit logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs, "count": len(logs)})
}

func AdminAPILogs(c *gin.Context) {
	limit, offset := pagination(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	logs, err := listAPILogs(ctx, c.Query("user_id"), limit, offset)
	if err != nil {
		logger.Get().Error("admin api logs failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load api logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs, "count": len(logs)})
}

func AdminPlanChanges(c *gin.Context) {
	limit, offset := pagination(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	logs, err := listPlanChanges(ctx, c.Query("user_id"), limit, offset)
	if err != nil {
		logger.Get().Error("admin plan changes failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load plan changes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs, "count": len(logs)})
}

// AdminListReviews includes unapproved reviews for moderation.
func AdminListReviews(c *gin.Context) {
	limit, offset := pagination(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	reviews, err := listReviews(ctx, false, limit, offset)
	if err != nil {
		logger.Get().Error("admin list reviews failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load reviews"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews, "count": len(reviews)})
}

func AdminModerateReview(c *gin.Context) {
	id, err := parseReviewID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req models.ReviewApproval
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	err = setReviewApproved(ctx, id, req.Approved)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
		return
	}
	if err != nil {
		logger.Get().Error("review moderation failed", zap.Int64("review_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update review"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "approved": req.Approved})
}
