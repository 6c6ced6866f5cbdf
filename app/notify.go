package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/mailer"
)

const emailTimeout = 10 * time.Second

// sendEmail renders and sends a template. Failures are logged, never returned.
func sendEmail(ctx context.Context, template string, p models.Profile, data mailer.TemplateData) {
	if mail == nil || p.Email == "" {
		return
	}
	cfg := conf()
	data.Product = cfg.Email.FromName
	data.AppURL = strings.TrimRight(cfg.Stripe.FrontendURL, "/") + "/dashboard"
	if data.Name == "" {
		data.Name = p.FullName
	}

	msg, err := mailer.Render(template, p.Email, data)
	if err != nil {
		logger.Get().Error("render email failed", zap.String("template", template), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emailTimeout)
	defer cancel()
	if err := mail.Send(ctx, msg); err != nil {
		logger.Get().Error("send email failed",
			zap.String("template", template),
			zap.String("user_id", p.UserID),
			zap.Error(err),
		)
		return
	}
	logger.Get().Info("email sent", zap.String("template", template), zap.String("user_id", p.UserID))
}

func notifyLowCredits(ctx context.Context, p models.Profile) {
	sendEmail(ctx, "low_credits", p, mailer.TemplateData{Credits: p.CreditsRemaining})
}

func notifyWelcome(ctx context.Context, p models.Profile) {
	sendEmail(ctx, "welcome", p, mailer.TemplateData{Credits: p.CreditsRemaining})
}

func notifyPurchase(ctx context.Context, p models.Profile, added int) {
	sendEmail(ctx, "purchase", p, mailer.TemplateData{Credits: p.CreditsRemaining, Added: added})
}
