// Package sender delivers outbound mail through Resend or SMTP.
package sender

import (
	"context"

	"github.com/google/uuid"

	"github.com/emitt/replyd/internal/email"
)

// EmailSender is an interface for sending emails. Send returns the provider
// message id when the provider reports one.
type EmailSender interface {
	Name() string
	Send(ctx context.Context, msg *email.OutboundEmail) (string, error)
}

// NoopSender accepts every message without delivering it. Used when
// outbound delivery is disabled.
type NoopSender struct{}

func (NoopSender) Name() string { return "none" }

func (NoopSender) Send(ctx context.Context, msg *email.OutboundEmail) (string, error) {
	return "noop-" + uuid.NewString(), nil
}
