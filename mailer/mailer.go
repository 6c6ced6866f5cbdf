// Package mailer sends transactional email through SendGrid or Resend.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

// Message is a rendered email ready to send.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Address is the From identity shared by all providers.
type Address struct {
	Email string
	Name  string
}

func (a Address) String() string {
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

type Options struct {
	Providers   []string
	SendGridKey string
	ResendKey   string
	From        Address
}

type namedSender struct {
	name string
	Sender
}

// Fallback tries each provider in order until one accepts the message.
type Fallback struct {
	senders []namedSender
}

// New builds the provider chain from opts. Providers without a key are
// skipped; an empty chain is an error.
func New(opts Options) (*Fallback, error) {
	if opts.From.Email == "" {
		return nil, errors.New("missing from address")
	}
	f := &Fallback{}
	for _, p := range opts.Providers {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "sendgrid":
			if opts.SendGridKey != "" {
				f.Add("sendgrid", NewSendGrid(opts.SendGridKey, opts.From))
			}
		case "resend":
			if opts.ResendKey != "" {
				f.Add("resend", NewResend(opts.ResendKey, opts.From))
			}
		default:
			return nil, fmt.Errorf("unknown email provider %q", p)
		}
	}
	if len(f.senders) == 0 {
		return nil, errors.New("no email provider configured")
	}
	return f, nil
}

// Add appends a provider to the chain.
func (f *Fallback) Add(name string, s Sender) {
	f.senders = append(f.senders, namedSender{name: name, Sender: s})
}

func (f *Fallback) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("missing recipient")
	}
	var errs []error
	for _, s := range f.senders {
		err := s.Send(ctx, msg)
		if err == nil {
			return nil
		}
		logger.Get().Warn("email provider failed",
			zap.String("provider", s.name),
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}
