package processor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emitt/replyd/internal/analyzer"
	"github.com/emitt/replyd/internal/config"
	"github.com/emitt/replyd/internal/email"
	"github.com/emitt/replyd/internal/metrics"
	"github.com/emitt/replyd/internal/reply"
	"github.com/emitt/replyd/internal/router"
	"github.com/emitt/replyd/internal/sender"
	"github.com/emitt/replyd/internal/storage"
	"github.com/emitt/replyd/internal/translate"
)

const testSecret = "s3cret"

type mockAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, content, sender, instruction string) analyzer.AnalysisResult
	calls       []string
}

func (m *mockAnalyzer) Analyze(ctx context.Context, content, sender, instruction string) analyzer.AnalysisResult {
	m.calls = append(m.calls, instruction)
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, content, sender, instruction)
	}
	return analyzer.Default(content, "en")
}

type mockTranslator struct {
	TranslateFunc func(ctx context.Context, e *email.ProcessedEmail, target string) translate.Result
	targets       []string
}

func (m *mockTranslator) Translate(ctx context.Context, e *email.ProcessedEmail, target string) translate.Result {
	m.targets = append(m.targets, target)
	return m.TranslateFunc(ctx, e, target)
}

type replyCall struct {
	to, subject, body, inReplyTo string
	replyTo                      email.Address
}

type mockMailer struct {
	result  sender.Result
	replies []replyCall
	sent    []*email.OutboundEmail
}

func (m *mockMailer) Send(ctx context.Context, msg *email.OutboundEmail) sender.Result {
	m.sent = append(m.sent, msg)
	return m.result
}

func (m *mockMailer) SendReply(ctx context.Context, to, subject, body, inReplyTo string, replyTo email.Address) sender.Result {
	m.replies = append(m.replies, replyCall{to, subject, body, inReplyTo, replyTo})
	return m.result
}

func (m *mockMailer) From() email.Address {
	return email.Address{Name: "AI助手", Address: "bot@example.com"}
}

type mockStore struct {
	records    []*storage.EmailRecord
	activities []string
	saveErr    error
}

func (m *mockStore) SaveEmail(ctx context.Context, rec *storage.EmailRecord) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *mockStore) LogActivity(ctx context.Context, activityType, level string, details map[string]any) error {
	m.activities = append(m.activities, activityType)
	return nil
}

type mockDedup struct {
	seen map[string]bool
	err  error
}

func (m *mockDedup) IsNew(ctx context.Context, id string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

type fixture struct {
	proc       *Processor
	analyzer   *mockAnalyzer
	translator *mockTranslator
	mailer     *mockMailer
	store      *mockStore
	metrics    *metrics.Metrics
}

func newFixture(t *testing.T, mutate func(o *Options)) *fixture {
	t.Helper()
	f := &fixture{
		analyzer: &mockAnalyzer{},
		translator: &mockTranslator{
			TranslateFunc: func(_ context.Context, e *email.ProcessedEmail, target string) translate.Result {
				return translate.Result{
					Success:           true,
					OriginalLanguage:  "zh",
					TargetLanguage:    target,
					OriginalSubject:   e.Subject,
					TranslatedSubject: "Quote request",
					TranslatedContent: "Please send a quote",
				}
			},
		},
		mailer:  &mockMailer{result: sender.Result{Success: true, Method: "resend", MessageID: "msg-1"}},
		store:   &mockStore{},
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
	}
	opts := Options{
		Secret:          testSecret,
		AutoReply:       true,
		TranslationFrom: email.Address{Address: "trans@example.com"},
		Parser:          email.NewParser(0, zerolog.Nop()),
		Analyzer:        f.analyzer,
		Composer:        reply.NewComposer("bot@example.com", "zh"),
		Translator:      f.translator,
		Mailer:          f.mailer,
		Store:           f.store,
		Metrics:         f.metrics,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.proc = NewProcessor(opts, zerolog.Nop())
	return f
}

func encode(msg string) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.ReplaceAll(msg, "\n", "\r\n")))
}

const directMessage = `From: Alice <alice@example.com>
To: bot@example.com
Subject: Pricing
Message-ID: <m1@example.com>
Content-Type: text/plain; charset=utf-8

Could you send me your price list?
`

const forwardedMessage = `From: Alice <alice@example.com>
To: bot@example.com
Subject: Fwd: Quote
Message-ID: <m2@example.com>
Content-Type: text/plain; charset=utf-8

Please answer this politely
---------- Forwarded message ----------
From: carol@example.org
Subject: Quote

How much for 100 units?
`

func signed(msg string) (string, string) {
	raw := encode(msg)
	return raw, email.Sign(raw, testSecret)
}

func TestHandleInboundRejectsBadSignature(t *testing.T) {
	f := newFixture(t, nil)
	raw, _ := signed(directMessage)

	_, err := f.proc.HandleInbound(context.Background(), raw, "deadbeef")
	require.ErrorIs(t, err, email.ErrInvalidSignature)

	assert.Empty(t, f.store.records)
	assert.Equal(t, []string{"email_received", "email_processing_failed"}, f.store.activities)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejected.WithLabelValues("signature")))
}

func TestHandleInboundRejectsUndecodablePayload(t *testing.T) {
	f := newFixture(t, nil)
	raw := "%%% not base64 %%%"

	_, err := f.proc.HandleInbound(context.Background(), raw, email.Sign(raw, testSecret))
	require.Error(t, err)
	assert.True(t, email.IsParseError(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejected.WithLabelValues("parse")))
}

func TestHandleInboundRepliesWithDraft(t *testing.T) {
	f := newFixture(t, nil)
	f.analyzer.AnalyzeFunc = func(_ context.Context, content, _, _ string) analyzer.AnalysisResult {
		return analyzer.AnalysisResult{
			Intent:       analyzer.IntentInquiry,
			NeedReply:    true,
			ReplyContent: "Here is our price list.",
		}
	}
	raw, sig := signed(directMessage)

	out, err := f.proc.HandleInbound(context.Background(), raw, sig)
	require.NoError(t, err)

	assert.Equal(t, StatusReplied, out.Status)
	assert.Equal(t, "邮件已保存并通过resend发送智能回复", out.Message)
	assert.True(t, out.Replied())
	assert.True(t, out.Saved)
	assert.False(t, out.Forwarded)
	assert.Empty(t, out.Instruction)

	require.Len(t, f.mailer.replies, 1)
	call := f.mailer.replies[0]
	assert.Equal(t, "Alice <alice@example.com>", call.to)
	assert.Equal(t, "Re: Pricing", call.subject)
	assert.True(t, strings.HasPrefix(call.body, "Here is our price list."))
	assert.Equal(t, "<m1@example.com>", call.inReplyTo)
	assert.Equal(t, "bot@example.com", call.replyTo.Address)

	require.Len(t, f.store.records, 1)
	rec := f.store.records[0]
	assert.Equal(t, storage.KindReply, rec.Kind)
	assert.Equal(t, storage.EmailStatusCompleted, rec.Status)
	assert.True(t, rec.Sent)

	var stored analyzer.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Analysis, &stored))
	assert.Equal(t, analyzer.IntentInquiry, stored.Intent)

	assert.Equal(t, []string{"email_received", "email_analyzed", "reply_sent"}, f.store.activities)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RepliesSent.WithLabelValues("resend")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Analyses.WithLabelValues("model")))
}

func TestHandleInboundPassesForwardingInstruction(t *testing.T) {
	f := newFixture(t, nil)
	raw, sig := signed(forwardedMessage)

	out, err := f.proc.HandleInbound(context.Background(), raw, sig)
	require.NoError(t, err)

	assert.True(t, out.Forwarded)
	assert.Equal(t, "Please answer this politely", out.Instruction)
	assert.Equal(t, []string{"Please answer this politely"}, f.analyzer.calls)

	// The fallback analysis is English and not auto-replyable.
	require.NotNil(t, out.Reply)
	assert.Equal(t, "Re: Fwd: Quote - Additional Information Needed", out.Reply.Subject)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Analyses.WithLabelValues("fallback")))
}

func TestHandleInboundWithoutAutoReply(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.AutoReply = false })
	raw, sig := signed(directMessage)

	out, err := f.proc.HandleInbound(context.Background(), raw, sig)
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, "邮件已保存，但未进行AI分析", out.Message)
	assert.Nil(t, out.Analysis)
	assert.Empty(t, f.analyzer.calls)
	assert.Empty(t, f.mailer.replies)
	require.Len(t, f.store.records, 1)
	assert.Equal(t, storage.EmailStatusSkipped, f.store.records[0].Status)
}

func TestHandleInboundSendFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.mailer.result = sender.Result{Error: "resend和smtp发送都失败"}
	raw, sig := signed(directMessage)

	out, err := f.proc.HandleInbound(context.Background(), raw, sig)
	require.NoError(t, err)

	assert.Equal(t, StatusAnalyzed, out.Status)
	assert.Equal(t, "邮件已保存并分析，但回复发送失败", out.Message)
	assert.False(t, out.Replied())
	require.Len(t, f.store.records, 1)
	assert.Equal(t, storage.EmailStatusFailed, f.store.records[0].Status)
	assert.False(t, f.store.records[0].Sent)
	assert.Contains(t, f.store.activities, "reply_failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReplyFailures))
}

func TestHandleInboundReportsSaveFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.store.saveErr = errors.New("disk full")
	raw, sig := signed(directMessage)

	out, err := f.proc.HandleInbound(context.Background(), raw, sig)
	require.NoError(t, err)
	assert.False(t, out.Saved)
	assert.True(t, out.Replied())
}

func TestHandleInboundSkipsDuplicates(t *testing.T) {
	dedup := &mockDedup{seen: map[string]bool{}}
	f := newFixture(t, func(o *Options) { o.Dedup = dedup })
	raw, sig := signed(directMessage)

	_, err := f.proc.HandleInbound(context.Background(), raw, sig)
	require.NoError(t, err)

	out, err := f.proc.HandleInbound(context.Background(), raw, sig)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, out.Status)

	assert.Len(t, f.analyzer.calls, 1)
	assert.Len(t, f.mailer.replies, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Duplicates))
}

func TestHandleInboundIgnoresDedupErrors(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Dedup = &mockDedup{err: errors.New("connection refused")} })
	raw, sig := signed(directMessage)

	out, err := f.proc.HandleInbound(context.Background(), raw, sig)
	require.NoError(t, err)
	assert.Equal(t, StatusReplied, out.Status)
}

func TestHandleTranslation(t *testing.T) {
	f := newFixture(t, nil)
	raw, sig := signed(directMessage)

	out, err := f.proc.HandleTranslation(context.Background(), raw, sig, "en")
	require.NoError(t, err)

	assert.Equal(t, StatusTranslated, out.Status)
	require.NotNil(t, out.Translation)
	assert.Equal(t, "en", out.Translation.TargetLanguage)

	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	assert.Equal(t, "翻译结果: Quote request", msg.Subject)
	assert.Equal(t, "<m1@example.com>", msg.InReplyTo)
	require.NotNil(t, msg.ReplyTo)
	assert.Equal(t, "trans@example.com", msg.ReplyTo.Address)
	assert.Contains(t, msg.TextBody, "Please send a quote")

	require.Len(t, f.store.records, 1)
	assert.Equal(t, storage.KindTranslation, f.store.records[0].Kind)
	assert.Equal(t, []string{"translation_request_received", "translation_sent", "translation_completed"}, f.store.activities)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Translations.WithLabelValues("en")))
}

func TestHandleTranslationDefaultsTarget(t *testing.T) {
	f := newFixture(t, nil)
	raw, sig := signed(directMessage)

	_, err := f.proc.HandleTranslation(context.Background(), raw, sig, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"zh"}, f.translator.targets)
}

func TestHandleTranslationRejectsUnsupportedLanguage(t *testing.T) {
	f := newFixture(t, nil)
	raw, sig := signed(directMessage)

	_, err := f.proc.HandleTranslation(context.Background(), raw, sig, "xx")
	require.ErrorIs(t, err, translate.ErrUnsupportedLanguage)
	assert.Empty(t, f.translator.targets)
	assert.Contains(t, f.store.activities, "unsupported_language")
}

func TestHandleTranslationFailureIsNotMailed(t *testing.T) {
	f := newFixture(t, nil)
	f.translator.TranslateFunc = func(context.Context, *email.ProcessedEmail, string) translate.Result {
		return translate.Result{Error: "翻译失败"}
	}
	raw, sig := signed(directMessage)

	out, err := f.proc.HandleTranslation(context.Background(), raw, sig, "en")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Empty(t, f.mailer.sent)
	assert.Contains(t, f.store.activities, "translation_failed")
}

func TestProcessRawRoutes(t *testing.T) {
	rt, err := router.NewRouter([]config.MailboxConfig{
		{
			Name:      "translations",
			Match:     config.MatchConfig{To: `^trans@`},
			Processor: config.ProcessorConfig{Type: "translate", TargetLanguage: "ja"},
		},
		{
			Name:  "support",
			Match: config.MatchConfig{To: `^support@`},
		},
	}, zerolog.Nop())
	require.NoError(t, err)

	f := newFixture(t, func(o *Options) { o.Router = rt })
	ctx := context.Background()

	out, err := f.proc.ProcessRaw(ctx, &email.ProcessedEmail{
		From: "alice@example.com", To: "trans@example.com", Subject: "你好", TextContent: "请报价",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusTranslated, out.Status)
	assert.Equal(t, []string{"ja"}, f.translator.targets)

	out, err = f.proc.ProcessRaw(ctx, &email.ProcessedEmail{
		From: "alice@example.com", To: "support@example.com", Subject: "Help", TextContent: "It broke",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusReplied, out.Status)
	assert.Equal(t, "support", f.store.records[1].MailboxName)

	out, err = f.proc.ProcessRaw(ctx, &email.ProcessedEmail{
		From: "alice@example.com", To: "random@example.com", TextContent: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusStored, out.Status)
	assert.Equal(t, storage.KindStored, f.store.records[2].Kind)
	assert.Equal(t, "unmatched", f.store.records[2].MailboxName)

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Received.WithLabelValues("smtp")))
}

func TestProcessRawWithoutRouterReplies(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.proc.ProcessRaw(context.Background(), &email.ProcessedEmail{
		From: "alice@example.com", To: "bot@example.com", Subject: "Hi", TextContent: "Hello there",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusReplied, out.Status)
	assert.Equal(t, "default", f.store.records[0].MailboxName)
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t, nil)

	got := f.proc.Analyze(context.Background(), "hello", "bob@example.com", "be brief")
	assert.True(t, got.Fallback)
	assert.Equal(t, []string{"be brief"}, f.analyzer.calls)
}
