package sender

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/emitt/replyd/internal/email"
)

// ResendSender sends emails via Resend API
type ResendSender struct {
	client  *resend.Client
	timeout time.Duration
}

// NewResendSender creates a new Resend sender
func NewResendSender(apiKey string, timeout time.Duration) *ResendSender {
	return &ResendSender{
		client:  resend.NewClient(apiKey),
		timeout: timeout,
	}
}

func (s *ResendSender) Name() string { return "resend" }

func (s *ResendSender) Send(ctx context.Context, e *email.OutboundEmail) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	params := &resend.SendEmailRequest{
		From:    e.From.String(),
		To:      e.Recipients(),
		Subject: e.Subject,
		Text:    e.TextBody,
	}

	if e.HTMLBody != "" {
		params.Html = e.HTMLBody
	}
	if e.ReplyTo != nil {
		params.ReplyTo = e.ReplyTo.Address
	}

	// Set reply headers
	if e.InReplyTo != "" {
		params.Headers = map[string]string{
			"In-Reply-To": e.InReplyTo,
		}
		if len(e.References) > 0 {
			params.Headers["References"] = strings.Join(e.References, " ")
		}
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("resend: %w", err)
	}
	return sent.Id, nil
}
