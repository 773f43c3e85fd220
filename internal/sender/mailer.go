package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/emitt/replyd/internal/email"
)

// ErrInvalidAddress is reported for recipients that fail ValidAddress.
var ErrInvalidAddress = errors.New("无效的邮箱地址")

// Result records how a message was delivered.
type Result struct {
	Success   bool   `json:"success"`
	Method    string `json:"method,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Status describes the configured delivery chain.
type Status struct {
	Primary     string `json:"primary"`
	Fallback    string `json:"fallback,omitempty"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
}

// Mailer delivers through a primary sender and, when that fails, an optional
// fallback. Every attempt is bounded by timeout.
type Mailer struct {
	primary  EmailSender
	fallback EmailSender
	from     email.Address
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewMailer creates a mailer. fallback may be nil.
func NewMailer(primary, fallback EmailSender, from email.Address, timeout time.Duration, logger zerolog.Logger) *Mailer {
	if primary == nil {
		primary = NoopSender{}
	}
	return &Mailer{
		primary:  primary,
		fallback: fallback,
		from:     from,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger.With().Str("component", "mailer").Logger(),
	}
}

// From is the default sender address.
func (m *Mailer) From() email.Address {
	return m.from
}

// Send delivers msg. A blank From is replaced by the default sender and
// recipient strings are reduced to bare addresses.
func (m *Mailer) Send(ctx context.Context, msg *email.OutboundEmail) Result {
	if msg.From.Address == "" {
		msg.From = m.from
	}
	for i := range msg.To {
		msg.To[i].Address = ExtractAddress(msg.To[i].Address)
	}

	id, err := m.attempt(ctx, m.primary, msg)
	if err == nil {
		return Result{Success: true, Method: m.primary.Name(), MessageID: id}
	}

	m.logger.Warn().
		Err(err).
		Str("method", m.primary.Name()).
		Strs("to", msg.Recipients()).
		Msg("Primary delivery failed")

	if m.fallback == nil {
		return Result{Error: fmt.Sprintf("%s发送失败: %v", m.primary.Name(), err)}
	}

	id, ferr := m.attempt(ctx, m.fallback, msg)
	if ferr == nil {
		return Result{Success: true, Method: m.fallback.Name(), MessageID: id}
	}

	m.logger.Error().
		Err(ferr).
		Str("method", m.fallback.Name()).
		Strs("to", msg.Recipients()).
		Msg("Fallback delivery failed")

	return Result{Error: fmt.Sprintf("%s和%s发送都失败", m.primary.Name(), m.fallback.Name())}
}

func (m *Mailer) attempt(ctx context.Context, s EmailSender, msg *email.OutboundEmail) (string, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	return s.Send(ctx, msg)
}

// SendReply answers to with body. The subject gets a single "Re: " prefix and
// Reply-To points back at replyTo, or the default sender when empty.
func (m *Mailer) SendReply(ctx context.Context, to, subject, body, inReplyTo string, replyTo email.Address) Result {
	if !ValidAddress(to) {
		return Result{Error: ErrInvalidAddress.Error()}
	}
	if replyTo.Address == "" {
		replyTo = m.from
	}

	msg := &email.OutboundEmail{
		From:      m.from,
		To:        []email.Address{{Address: ExtractAddress(to)}},
		ReplyTo:   &replyTo,
		Subject:   ReplySubject(subject),
		TextBody:  body,
		InReplyTo: inReplyTo,
	}
	if inReplyTo != "" {
		msg.References = []string{inReplyTo}
	}

	result := m.Send(ctx, msg)
	if result.Success {
		m.logger.Info().
			Str("to", msg.To[0].Address).
			Str("subject", msg.Subject).
			Str("method", result.Method).
			Str("message_id", result.MessageID).
			Msg("Reply sent")
	} else {
		m.logger.Error().
			Str("to", msg.To[0].Address).
			Str("subject", msg.Subject).
			Str("error", result.Error).
			Msg("Reply failed")
	}
	return result
}

// SendTest sends a configuration check message to to.
func (m *Mailer) SendTest(ctx context.Context, to, subject string) Result {
	if !ValidAddress(to) {
		return Result{Error: ErrInvalidAddress.Error()}
	}
	if subject == "" {
		subject = "测试邮件"
	}
	body := fmt.Sprintf(`这是一封测试邮件。

发送时间: %s
目标邮箱: %s
发送方式: %s

如果您收到此邮件，说明邮件发送配置正常。

AI助手
%s`, m.now().Format(time.RFC3339), to, m.chain(), m.from.Address)

	return m.Send(ctx, &email.OutboundEmail{
		To:       []email.Address{{Address: to}},
		Subject:  subject,
		TextBody: body,
	})
}

// Status reports the configured delivery chain.
func (m *Mailer) Status() Status {
	s := Status{
		Primary:     m.primary.Name(),
		FromAddress: m.from.Address,
		FromName:    m.from.Name,
	}
	if m.fallback != nil {
		s.Fallback = m.fallback.Name()
	}
	return s
}

func (m *Mailer) chain() string {
	if m.fallback == nil {
		return m.primary.Name()
	}
	return m.primary.Name() + " -> " + m.fallback.Name()
}
