// Package app wires shared HTTP routes for both local and Lambda execution.
package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/auth"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

// NewRouter builds the shared HTTP router for both local and Lambda execution.
func NewRouter() (*gin.Engine, error) {
	cfg := conf()
	log := logger.Get()

	router := gin.New()
	router.Use(Recovery(log), RequestLogger(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", Health)
	router.GET("/metrics", gin.WrapH(MetricsHandler()))
	router.POST("/api/webhooks/stripe", StripeWebhook)
	router.POST("/api/webhooks/clerk", ClerkWebhook)
	router.GET("/api/quickbooks/callback", QuickBooksCallback)
	router.GET("/api/reviews", ListReviews)

	verifier, err := auth.NewVerifier(cfg.Auth.Issuer, cfg.Auth.JWKSURL, cfg.Auth.AuthorizedParties)
	if err != nil && !auth.AuthDisabled() {
		return nil, err
	}

	protected := router.Group("/api")
	protected.Use(auth.Middleware(verifier, auth.MiddlewareConfig{
		OnAuthenticated: func(c *gin.Context, claims *auth.Claims) error {
			err := EnsureProfileFromClaims(c.Request.Context(), claims)
			if errors.Is(err, errProfileDeleted) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account deleted"})
				return nil
			}
			return err
		},
	}))
	protected.GET("/me", Me)
	protected.GET("/credits/history", CreditHistory)

	protected.POST("/documents", UploadDocument)
	protected.GET("/documents", ListDocuments)
	protected.GET("/documents/:id", GetDocument)
	protected.PATCH("/documents/:id", UpdateDocument)
	protected.DELETE("/documents/:id", DeleteDocument)
	protected.GET("/documents/:id/file", GetDocumentFile)
	protected.POST("/documents/:id/sync", SyncDocument)

	protected.POST("/billing/checkout", CreateCheckoutSession)
	protected.POST("/billing/portal", CreatePortalSession)

	protected.GET("/quickbooks/connect", QuickBooksConnect)
	protected.GET("/quickbooks/status", QuickBooksStatus)
	protected.POST("/quickbooks/disconnect", QuickBooksDisconnect)

	protected.POST("/reviews", SubmitReview)

	admin := protected.Group("/admin")
	admin.Use(RequireAdmin())
	admin.GET("/users", AdminListUsers)
	admin.POST("/users/:id/credits", AdminUpdateCredits)
	admin.POST("/users/:id/plan", AdminChangePlan)
	admin.GET("/credit-logs", AdminCreditLogs)
	admin.GET("/api-logs", AdminAPILogs)
	admin.GET("/plan-changes", AdminPlanChanges)
	admin.GET("/reviews", AdminListReviews)
	admin.PATCH("/reviews/:id", AdminModerateReview)

	return router, nil
}
