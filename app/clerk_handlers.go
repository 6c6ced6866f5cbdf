package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	svix "github.com/svix/svix-webhooks/go"
	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

type clerkEvent struct {
	Type string        `json:"type"`
	Data clerkUserData `json:"data"`
}

type clerkEmail struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type clerkUserData struct {
	ID                    string       `json:"id"`
	FirstName             string       `json:"first_name"`
	LastName              string       `json:"last_name"`
	Username              string       `json:"username"`
	PrimaryEmailAddressID string       `json:"primary_email_address_id"`
	EmailAddresses        []clerkEmail `json:"email_addresses"`
	Deleted               bool         `json:"deleted"`
}

// PrimaryEmail returns the primary address, or the first one listed.
func (u clerkUserData) PrimaryEmail() string {
	for _, e := range u.EmailAddresses {
		if e.ID == u.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

func (u clerkUserData) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// ClerkWebhook keeps profiles in step with Clerk users.
func ClerkWebhook(c *gin.Context) {
	const maxBodyBytes = int64(65536)
	log := logger.Get()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	secret := conf().Clerk.WebhookSecret
	if secret == "" {
		log.Error("clerk webhook secret missing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		log.Error("clerk webhook secret invalid", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}
	if err := wh.Verify(body, c.Request.Header); err != nil {
		log.Warn("clerk webhook signature failed", zap.Error(err))
		webhookEvents.WithLabelValues("clerk", "unknown", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	var event clerkEvent
	if err := json.Unmarshal(body, &event); err != nil || event.Data.ID == "" {
		webhookEvents.WithLabelValues("clerk", "unknown", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := handleClerkEvent(c.Request.Context(), event); err != nil {
		log.Error("clerk event failed",
			zap.String("type", event.Type),
			zap.String("user_id", event.Data.ID),
			zap.Error(err),
		)
		webhookEvents.WithLabelValues("clerk", event.Type, "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	webhookEvents.WithLabelValues("clerk", event.Type, "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func handleClerkEvent(ctx context.Context, event clerkEvent) error {
	u := event.Data
	switch event.Type {
	case "user.created":
		p, created, err := SeedWelcomeCredits(ctx, u.ID, u.PrimaryEmail(), u.FullName())
		if err != nil {
			return err
		}
		if !created {
			// profile was made lazily from session claims, which carry no email
			if err := updateProfileIdentity(ctx, u.ID, u.PrimaryEmail(), u.FullName()); err != nil {
				return err
			}
			p = withIdentity(p, u.PrimaryEmail(), u.FullName())
		}
		sendWelcomeOnce(ctx, p)
		return nil
	case "user.updated":
		err := updateProfileIdentity(ctx, u.ID, u.PrimaryEmail(), u.FullName())
		if errors.Is(err, sql.ErrNoRows) {
			// update arrived before create
			var p models.Profile
			p, _, err = SeedWelcomeCredits(ctx, u.ID, u.PrimaryEmail(), u.FullName())
			if err == nil {
				sendWelcomeOnce(ctx, p)
			}
		}
		return err
	case "user.deleted":
		err := softDeleteProfile(ctx, u.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	default:
		return nil
	}
}

func withIdentity(p models.Profile, email, name string) models.Profile {
	if email != "" {
		p.Email = email
	}
	if name != "" {
		p.FullName = name
	}
	return p
}

// sendWelcomeOnce sends the welcome email the first time the profile has
// an address to send it to.
func sendWelcomeOnce(ctx context.Context, p models.Profile) {
	if p.Email == "" || p.DeletedAt != nil {
		return
	}
	claimed, err := claimWelcomeEmail(ctx, p.UserID)
	if err != nil {
		logger.Get().Error("welcome email claim failed", zap.String("user_id", p.UserID), zap.Error(err))
		return
	}
	if claimed {
		notifyWelcome(ctx, p)
	}
}
