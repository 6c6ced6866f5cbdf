// Package app provides public health and authenticated identity endpoints.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

// Health is a public health check endpoint.
func Health(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			logger.Get().Warn("health check db ping failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unreachable"})
			return
		}
		status["db"] = "ok"
	}
	c.JSON(http.StatusOK, status)
}

// Me returns plan, credit balances and integration status for the caller.
func Me(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":                    p.UserID,
		"email":                     p.Email,
		"fullName":                  p.FullName,
		"plan":                      p.Plan,
		"planAllowance":             allowanceFor(p.Plan),
		"creditsRemaining":          p.CreditsRemaining,
		"creditsAllowanceRemaining": p.CreditsAllowanceRemaining,
		"creditsTopupRemaining":     p.CreditsTopupRemaining,
		"lowCreditAlertSent":        p.LowCreditAlertSent,
		"isAdmin":                   isAdmin(p),
		"quickbooks":                quickBooksStatus(p),
	})
}

// CreditHistory returns the caller's ledger rows, newest first.
func CreditHistory(c *gin.Context) {
	p, ok := currentProfile(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	logs, err := listCreditLogs(ctx, p.UserID, limit, offset)
	if err != nil {
		logger.Get().Error("credit history failed", zap.String("user_id", p.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load credit history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": logs,
		"count":   len(logs),
		"limit":   limit,
		"offset":  offset,
	})
}
