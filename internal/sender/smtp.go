package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/emitt/replyd/internal/email"
)

// SMTPSender sends emails via SMTP. Port 465 uses implicit TLS, 587 uses
// STARTTLS, any other port is plain.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(host string, port int, username, password string, timeout time.Duration) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		timeout:  timeout,
	}
}

func (s *SMTPSender) Name() string { return "smtp" }

// Configured reports whether credentials are present.
func (s *SMTPSender) Configured() bool {
	return s.host != "" && s.password != ""
}

// Addr is the host:port of the submission server.
func (s *SMTPSender) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

func (s *SMTPSender) Send(ctx context.Context, e *email.OutboundEmail) (string, error) {
	msg, messageID, err := BuildMessage(e, time.Now())
	if err != nil {
		return "", err
	}

	c, err := s.dial(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", s.Addr(), err)
	}
	defer c.Close()

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout == 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout > 0 {
		c.CommandTimeout = timeout
		c.SubmissionTimeout = timeout
	}

	if s.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			return "", fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := c.SendMail(e.From.Address, e.Recipients(), bytes.NewReader(msg)); err != nil {
		return "", fmt.Errorf("smtp send failed: %w", err)
	}

	if err := c.Quit(); err != nil {
		return messageID, fmt.Errorf("smtp quit failed: %w", err)
	}
	return messageID, nil
}

// dial connects within ctx and the sender timeout, then sets up TLS as the
// port requires.
func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: s.timeout}
	tlsConfig := &tls.Config{ServerName: s.host}

	if s.port == 465 {
		td := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err := td.DialContext(ctx, "tcp", s.Addr())
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn), nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", s.Addr())
	if err != nil {
		return nil, err
	}
	if s.port == 587 {
		return smtp.NewClientStartTLS(conn, tlsConfig)
	}
	return smtp.NewClient(conn), nil
}

// BuildMessage renders e as an RFC 5322 message with a generated Message-ID.
// A plain body is sent single-part; an HTML body adds a multipart/alternative.
func BuildMessage(e *email.OutboundEmail, date time.Time) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: e.From.Name, Address: e.From.Address}})
	h.SetAddressList("To", toMailAddresses(e.To))
	if e.ReplyTo != nil {
		h.SetAddressList("Reply-To", []*mail.Address{{Name: e.ReplyTo.Name, Address: e.ReplyTo.Address}})
	}
	h.SetSubject(e.Subject)
	if e.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{trimMsgID(e.InReplyTo)})
	}
	if len(e.References) > 0 {
		refs := make([]string, len(e.References))
		for i, r := range e.References {
			refs[i] = trimMsgID(r)
		}
		h.SetMsgIDList("References", refs)
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("failed to generate message id: %w", err)
	}
	messageID, err := h.MessageID()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read message id: %w", err)
	}

	var buf bytes.Buffer
	if e.HTMLBody == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create message writer: %w", err)
		}
		if _, err := io.WriteString(w, e.TextBody); err != nil {
			return nil, "", fmt.Errorf("failed to write body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("failed to close message writer: %w", err)
		}
		return buf.Bytes(), messageID, nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create message writer: %w", err)
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return nil, "", fmt.Errorf("failed to create inline writer: %w", err)
	}
	for _, part := range []struct{ contentType, body string }{
		{"text/plain", e.TextBody},
		{"text/html", e.HTMLBody},
	} {
		var ph mail.InlineHeader
		ph.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		pw, err := iw.CreatePart(ph)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create %s part: %w", part.contentType, err)
		}
		if _, err := io.WriteString(pw, part.body); err != nil {
			return nil, "", fmt.Errorf("failed to write %s part: %w", part.contentType, err)
		}
		if err := pw.Close(); err != nil {
			return nil, "", fmt.Errorf("failed to close %s part: %w", part.contentType, err)
		}
	}
	if err := iw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), messageID, nil
}

func toMailAddresses(addrs []email.Address) []*mail.Address {
	out := make([]*mail.Address, len(addrs))
	for i, a := range addrs {
		out[i] = &mail.Address{Name: a.Name, Address: a.Address}
	}
	return out
}

func trimMsgID(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}
