package sender

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emitt/replyd/internal/email"
)

type mockSender struct {
	name     string
	SendFunc func(ctx context.Context, msg *email.OutboundEmail) (string, error)
	sent     []*email.OutboundEmail
}

func (m *mockSender) Name() string { return m.name }

func (m *mockSender) Send(ctx context.Context, msg *email.OutboundEmail) (string, error) {
	m.sent = append(m.sent, msg)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return m.name + "-id", nil
}

func failing(name string) *mockSender {
	return &mockSender{
		name: name,
		SendFunc: func(context.Context, *email.OutboundEmail) (string, error) {
			return "", errors.New(name + " down")
		},
	}
}

var from = email.Address{Name: "AI智能助手", Address: "ai@example.com"}

func TestMailerPrimarySucceeds(t *testing.T) {
	primary := &mockSender{name: "resend"}
	fallback := &mockSender{name: "smtp"}
	m := NewMailer(primary, fallback, from, time.Second, zerolog.Nop())

	got := m.Send(context.Background(), &email.OutboundEmail{
		To:      []email.Address{{Address: "Bob <bob@example.com>"}},
		Subject: "hi",
	})

	assert.Equal(t, Result{Success: true, Method: "resend", MessageID: "resend-id"}, got)
	require.Len(t, primary.sent, 1)
	assert.Equal(t, from, primary.sent[0].From)
	assert.Equal(t, "bob@example.com", primary.sent[0].To[0].Address)
	assert.Empty(t, fallback.sent)
}

func TestMailerFallsBack(t *testing.T) {
	fallback := &mockSender{name: "smtp"}
	m := NewMailer(failing("resend"), fallback, from, time.Second, zerolog.Nop())

	got := m.Send(context.Background(), &email.OutboundEmail{To: []email.Address{{Address: "bob@example.com"}}})

	assert.True(t, got.Success)
	assert.Equal(t, "smtp", got.Method)
	assert.Len(t, fallback.sent, 1)
}

func TestMailerBothFail(t *testing.T) {
	m := NewMailer(failing("resend"), failing("smtp"), from, time.Second, zerolog.Nop())

	got := m.Send(context.Background(), &email.OutboundEmail{To: []email.Address{{Address: "bob@example.com"}}})

	assert.False(t, got.Success)
	assert.Equal(t, "resend和smtp发送都失败", got.Error)
}

func TestMailerNoFallback(t *testing.T) {
	m := NewMailer(failing("smtp"), nil, from, time.Second, zerolog.Nop())

	got := m.Send(context.Background(), &email.OutboundEmail{To: []email.Address{{Address: "bob@example.com"}}})

	assert.False(t, got.Success)
	assert.Contains(t, got.Error, "smtp down")
}

func TestMailerAttemptIsBounded(t *testing.T) {
	primary := &mockSender{
		name: "slow",
		SendFunc: func(ctx context.Context, _ *email.OutboundEmail) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	m := NewMailer(primary, nil, from, 20*time.Millisecond, zerolog.Nop())

	got := m.Send(context.Background(), &email.OutboundEmail{To: []email.Address{{Address: "bob@example.com"}}})

	assert.False(t, got.Success)
	assert.Contains(t, got.Error, context.DeadlineExceeded.Error())
}

func TestSendReply(t *testing.T) {
	primary := &mockSender{name: "resend"}
	m := NewMailer(primary, nil, from, time.Second, zerolog.Nop())

	got := m.SendReply(context.Background(), "Alice <alice@example.com>", "Re: Question", "answer", "<orig@example.com>", email.Address{})

	require.True(t, got.Success)
	require.Len(t, primary.sent, 1)
	msg := primary.sent[0]
	assert.Equal(t, "Re: Question", msg.Subject)
	assert.Equal(t, "alice@example.com", msg.To[0].Address)
	require.NotNil(t, msg.ReplyTo)
	assert.Equal(t, "ai@example.com", msg.ReplyTo.Address)
	assert.Equal(t, "<orig@example.com>", msg.InReplyTo)
	assert.Equal(t, []string{"<orig@example.com>"}, msg.References)
}

func TestSendReplyRejectsInvalidAddress(t *testing.T) {
	primary := &mockSender{name: "resend"}
	m := NewMailer(primary, nil, from, time.Second, zerolog.Nop())

	got := m.SendReply(context.Background(), "not-an-address", "s", "b", "", email.Address{})

	assert.False(t, got.Success)
	assert.Equal(t, "无效的邮箱地址", got.Error)
	assert.Empty(t, primary.sent)
}

func TestSendTest(t *testing.T) {
	primary := &mockSender{name: "smtp"}
	m := NewMailer(primary, nil, from, time.Second, zerolog.Nop())
	m.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	got := m.SendTest(context.Background(), "bob@example.com", "")

	require.True(t, got.Success)
	assert.Equal(t, "测试邮件", primary.sent[0].Subject)
	assert.Contains(t, primary.sent[0].TextBody, "发送时间: 2024-01-02T03:04:05Z")
	assert.Contains(t, primary.sent[0].TextBody, "目标邮箱: bob@example.com")
}

func TestStatus(t *testing.T) {
	m := NewMailer(&mockSender{name: "resend"}, &mockSender{name: "smtp"}, from, time.Second, zerolog.Nop())
	assert.Equal(t, Status{Primary: "resend", Fallback: "smtp", FromAddress: "ai@example.com", FromName: "AI智能助手"}, m.Status())

	m = NewMailer(nil, nil, from, time.Second, zerolog.Nop())
	assert.Equal(t, "none", m.Status().Primary)
}

func TestAddressHelpers(t *testing.T) {
	assert.Equal(t, "a@b.com", ExtractAddress("Alice <a@b.com>"))
	assert.Equal(t, "a@b.com", ExtractAddress("  a@b.com "))
	assert.Equal(t, "", ExtractAddress(""))

	assert.True(t, ValidAddress("Alice <alice@example.com>"))
	assert.True(t, ValidAddress("first.last+tag@sub.example.org"))
	assert.False(t, ValidAddress(""))
	assert.False(t, ValidAddress("alice@localhost"))
	assert.False(t, ValidAddress("alice example.com"))

	assert.Equal(t, "Re: x", ReplySubject("x"))
	assert.Equal(t, "Re: x", ReplySubject("Re: x"))
	assert.Equal(t, "Re: RE: x", ReplySubject("RE: x"))
}

func TestBuildMessage(t *testing.T) {
	msg := &email.OutboundEmail{
		From:      from,
		To:        []email.Address{{Address: "bob@example.com"}},
		ReplyTo:   &email.Address{Address: "ai@example.com"},
		Subject:   "Re: 你好",
		TextBody:  "正文",
		InReplyTo: "<orig@example.com>",
	}

	raw, id, err := BuildMessage(msg, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	parsed, err := email.NewParser(0, zerolog.Nop()).ParseBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, "Re: 你好", parsed.Subject)
	assert.Equal(t, "正文", strings.TrimSpace(parsed.TextContent))
	assert.Contains(t, parsed.To, "bob@example.com")
	assert.Contains(t, string(raw), "In-Reply-To: <orig@example.com>")
}

func TestBuildMessageWithHTML(t *testing.T) {
	msg := &email.OutboundEmail{
		From:     from,
		To:       []email.Address{{Address: "bob@example.com"}},
		Subject:  "hello",
		TextBody: "plain",
		HTMLBody: "<p>rich</p>",
	}

	raw, _, err := BuildMessage(msg, time.Now())
	require.NoError(t, err)

	parsed, err := email.NewParser(0, zerolog.Nop()).ParseBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, "plain", strings.TrimSpace(parsed.TextContent))
	assert.Equal(t, "<p>rich</p>", strings.TrimSpace(parsed.HTMLContent))
}
