package mailer

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

type Resend struct {
	client *resend.Client
	from   Address
}

func NewResend(apiKey string, from Address) *Resend {
	return &Resend{client: resend.NewClient(apiKey), from: from}
}

func (r *Resend) Send(ctx context.Context, msg Message) error {
	to := msg.To
	if msg.ToName != "" {
		to = Address{Email: msg.To, Name: msg.ToName}.String()
	}
	_, err := r.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    r.from.String(),
		To:      []string{to},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("resend send: %w", err)
	}
	return nil
}
