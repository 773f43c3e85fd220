package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/emitt/replyd/internal/analyzer"
	"github.com/emitt/replyd/internal/email"
	"github.com/emitt/replyd/internal/heuristics"
	"github.com/emitt/replyd/internal/metrics"
	"github.com/emitt/replyd/internal/reply"
	"github.com/emitt/replyd/internal/router"
	"github.com/emitt/replyd/internal/sender"
	"github.com/emitt/replyd/internal/storage"
	"github.com/emitt/replyd/internal/translate"
)

// Analyzer classifies message content.
type Analyzer interface {
	Analyze(ctx context.Context, content, sender, instruction string) analyzer.AnalysisResult
}

// Translator renders a message into another language.
type Translator interface {
	Translate(ctx context.Context, e *email.ProcessedEmail, target string) translate.Result
}

// Mailer delivers outbound mail.
type Mailer interface {
	Send(ctx context.Context, msg *email.OutboundEmail) sender.Result
	SendReply(ctx context.Context, to, subject, body, inReplyTo string, replyTo email.Address) sender.Result
	From() email.Address
}

// Store persists processed mail and the activity journal.
type Store interface {
	SaveEmail(ctx context.Context, rec *storage.EmailRecord) error
	LogActivity(ctx context.Context, activityType, level string, details map[string]any) error
}

// Deduper reports whether a Message-ID is seen for the first time.
type Deduper interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
}

// Options configures a Processor. Dedup and Router may be nil.
type Options struct {
	Secret             string
	AutoReply          bool
	TranslationFrom    email.Address
	DefaultTranslation string

	Parser     *email.Parser
	Analyzer   Analyzer
	Composer   *reply.Composer
	Translator Translator
	Mailer     Mailer
	Store      Store
	Dedup      Deduper
	Router     *router.Router
	Metrics    *metrics.Metrics
}

// Processor runs the inbound pipeline: verify, parse, classify, reply,
// persist. Each call works on its own data; the processor holds no
// per-request state.
type Processor struct {
	opts   Options
	logger zerolog.Logger
}

// NewProcessor creates a new email processor
func NewProcessor(opts Options, logger zerolog.Logger) *Processor {
	if opts.DefaultTranslation == "" {
		opts.DefaultTranslation = heuristics.LangChinese
	}
	return &Processor{
		opts:   opts,
		logger: logger.With().Str("component", "processor").Logger(),
	}
}

// Outcome reports what the pipeline did with one message.
type Outcome struct {
	Status      Status                   `json:"status"`
	Email       email.Summary            `json:"email"`
	Forwarded   bool                     `json:"forwarded"`
	Instruction string                   `json:"user_instruction,omitempty"`
	Analysis    *analyzer.AnalysisResult `json:"analysis,omitempty"`
	Reply       *reply.Reply             `json:"reply,omitempty"`
	SendResult  *sender.Result           `json:"send_result,omitempty"`
	Translation *translate.Result        `json:"translation_result,omitempty"`
	Saved       bool                     `json:"saved"`
	Message     string                   `json:"message"`
}

// Replied reports whether a reply was delivered.
func (o *Outcome) Replied() bool {
	return o.SendResult != nil && o.SendResult.Success
}

// Status summarises an Outcome.
type Status string

const (
	StatusReplied    Status = "replied"
	StatusAnalyzed   Status = "analyzed"
	StatusSkipped    Status = "skipped"
	StatusDuplicate  Status = "duplicate"
	StatusTranslated Status = "translated"
	StatusStored     Status = "stored"
)

// HandleInbound verifies and parses a signed webhook payload, then answers
// the sender. Signature and parse failures are returned as errors; every
// later stage degrades instead of failing.
func (p *Processor) HandleInbound(ctx context.Context, rawBase64, signature string) (*Outcome, error) {
	p.activity(ctx, "email_received", "info", map[string]any{
		"signature_present": signature != "",
		"payload_size":      len(rawBase64),
	})

	parsed, err := p.verifyAndParse(ctx, rawBase64, signature)
	if err != nil {
		return nil, err
	}
	p.count(func(m *metrics.Metrics) { m.Received.WithLabelValues("webhook").Inc() })

	return p.reply(ctx, parsed, "")
}

// HandleTranslation verifies and parses a signed payload, translates it into
// target and mails the result back to the sender.
func (p *Processor) HandleTranslation(ctx context.Context, rawBase64, signature, target string) (*Outcome, error) {
	if target == "" {
		target = p.opts.DefaultTranslation
	}
	p.activity(ctx, "translation_request_received", "info", map[string]any{
		"target_language":   target,
		"signature_present": signature != "",
		"payload_size":      len(rawBase64),
	})

	parsed, err := p.verifyAndParse(ctx, rawBase64, signature)
	if err != nil {
		return nil, err
	}
	p.count(func(m *metrics.Metrics) { m.Received.WithLabelValues("translation").Inc() })

	if !translate.IsSupported(target) {
		p.activity(ctx, "unsupported_language", "error", map[string]any{
			"target_language":     target,
			"supported_languages": translate.SupportedLanguages(),
		})
		return nil, fmt.Errorf("%w: %s", translate.ErrUnsupportedLanguage, target)
	}

	return p.translate(ctx, parsed, target, "")
}

// ProcessRaw handles a message accepted by the SMTP listener. The sender is
// trusted, so there is no signature; the mailbox rules choose between reply,
// translation and storing only.
func (p *Processor) ProcessRaw(ctx context.Context, parsed *email.ProcessedEmail) (*Outcome, error) {
	p.count(func(m *metrics.Metrics) { m.Received.WithLabelValues("smtp").Inc() })

	route := &router.RouteResult{MailboxName: "default", ProcessorType: router.ProcessorTypeReply}
	if p.opts.Router != nil {
		route = p.opts.Router.Route(parsed)
	}

	switch route.ProcessorType {
	case router.ProcessorTypeReply:
		return p.reply(ctx, parsed, route.MailboxName)
	case router.ProcessorTypeTranslate:
		target := p.opts.DefaultTranslation
		if route.Config != nil && route.Config.TargetLanguage != "" {
			target = route.Config.TargetLanguage
		}
		if !translate.IsSupported(target) {
			return nil, fmt.Errorf("mailbox %s: %w: %s", route.MailboxName, translate.ErrUnsupportedLanguage, target)
		}
		return p.translate(ctx, parsed, target, route.MailboxName)
	case router.ProcessorTypeNoop:
		out := &Outcome{Status: StatusStored, Email: parsed.Summary(), Message: "邮件已保存"}
		out.Saved = p.save(ctx, &storage.EmailRecord{
			Kind:        storage.KindStored,
			MailboxName: route.MailboxName,
			Email:       *parsed,
			Status:      storage.EmailStatusSkipped,
		})
		return out, nil
	default:
		return nil, fmt.Errorf("unknown processor type %q for mailbox %s", route.ProcessorType, route.MailboxName)
	}
}

// Analyze runs the classifier on free text.
func (p *Processor) Analyze(ctx context.Context, text, sender, instruction string) analyzer.AnalysisResult {
	result := p.opts.Analyzer.Analyze(ctx, text, sender, instruction)
	p.countAnalysis(result)
	return result
}

func (p *Processor) verifyAndParse(ctx context.Context, rawBase64, signature string) (*email.ProcessedEmail, error) {
	if !email.VerifySignature(rawBase64, signature, p.opts.Secret) {
		p.logger.Warn().Bool("signature_present", signature != "").Msg("Rejected payload with invalid signature")
		p.count(func(m *metrics.Metrics) { m.Rejected.WithLabelValues("signature").Inc() })
		p.activity(ctx, "email_processing_failed", "error", map[string]any{"reason": "签名验证失败"})
		return nil, email.ErrInvalidSignature
	}

	parsed, err := p.opts.Parser.Parse(rawBase64)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to parse payload")
		p.count(func(m *metrics.Metrics) { m.Rejected.WithLabelValues("parse").Inc() })
		p.activity(ctx, "email_processing_failed", "error", map[string]any{"reason": "邮件解析失败", "error": err.Error()})
		return nil, err
	}

	if problems := parsed.Validate(); len(problems) > 0 {
		p.logger.Warn().
			Strs("problems", problems).
			Str("message_id", parsed.MessageID).
			Msg("Parsed email failed validation")
	}

	p.logger.Info().
		Str("from", parsed.From).
		Str("to", parsed.To).
		Str("subject", parsed.Subject).
		Str("message_id", parsed.MessageID).
		Msg("Received email")

	return parsed, nil
}

// firstSeen consults the dedup store. Store errors let the message through.
func (p *Processor) firstSeen(ctx context.Context, parsed *email.ProcessedEmail) bool {
	if p.opts.Dedup == nil {
		return true
	}
	isNew, err := p.opts.Dedup.IsNew(ctx, parsed.MessageID)
	if err != nil {
		p.logger.Warn().Err(err).Str("message_id", parsed.MessageID).Msg("Dedup check failed, processing anyway")
		return true
	}
	if !isNew {
		p.logger.Info().Str("message_id", parsed.MessageID).Msg("Skipping already processed email")
		p.count(func(m *metrics.Metrics) { m.Duplicates.Inc() })
		p.activity(ctx, "email_duplicate", "info", map[string]any{
			"from":       parsed.From,
			"message_id": parsed.MessageID,
		})
	}
	return isNew
}

func (p *Processor) reply(ctx context.Context, parsed *email.ProcessedEmail, mailbox string) (*Outcome, error) {
	start := time.Now()
	defer p.observe("reply", start)

	out := &Outcome{Email: parsed.Summary()}
	if !p.firstSeen(ctx, parsed) {
		out.Status = StatusDuplicate
		out.Message = "邮件已处理过，跳过"
		return out, nil
	}

	rec := &storage.EmailRecord{
		Kind:        storage.KindReply,
		MailboxName: mailbox,
		Email:       *parsed,
		Status:      storage.EmailStatusCompleted,
	}

	content := parsed.AnalysisText()
	if !p.opts.AutoReply || content == "" {
		out.Status = StatusSkipped
		out.Message = "邮件已保存，但未进行AI分析"
		rec.Status = storage.EmailStatusSkipped
		out.Saved = p.save(ctx, rec)
		return out, nil
	}

	out.Forwarded = heuristics.IsForwarded(parsed.Subject, content)
	out.Instruction = heuristics.ExtractUserInstruction(content, out.Forwarded)

	analysis := p.opts.Analyzer.Analyze(ctx, content, parsed.From, out.Instruction)
	out.Analysis = &analysis
	rec.Analysis = marshal(analysis)
	p.countAnalysis(analysis)
	p.activity(ctx, "email_analyzed", "info", map[string]any{
		"from":           parsed.From,
		"intent":         analysis.Intent,
		"can_auto_reply": analysis.CanAutoReply,
		"fallback":       analysis.Fallback,
	})

	composed := p.opts.Composer.Compose(analysis, parsed.Subject, content, out.Forwarded)
	out.Reply = &composed

	result := p.opts.Mailer.SendReply(ctx, parsed.From, composed.Subject, composed.Body, parsed.MessageID, p.opts.Mailer.From())
	out.SendResult = &result
	rec.SendResult = marshal(result)
	rec.Sent = result.Success

	if result.Success {
		out.Status = StatusReplied
		out.Message = fmt.Sprintf("邮件已保存并通过%s发送智能回复", result.Method)
		p.count(func(m *metrics.Metrics) { m.RepliesSent.WithLabelValues(result.Method).Inc() })
		p.activity(ctx, "reply_sent", "info", map[string]any{
			"to":         parsed.From,
			"method":     result.Method,
			"message_id": result.MessageID,
		})
	} else {
		out.Status = StatusAnalyzed
		out.Message = "邮件已保存并分析，但回复发送失败"
		rec.Status = storage.EmailStatusFailed
		p.count(func(m *metrics.Metrics) { m.ReplyFailures.Inc() })
		p.activity(ctx, "reply_failed", "error", map[string]any{
			"to":    parsed.From,
			"error": result.Error,
		})
	}

	out.Saved = p.save(ctx, rec)

	p.logger.Info().
		Str("message_id", parsed.MessageID).
		Str("status", string(out.Status)).
		Bool("forwarded", out.Forwarded).
		Str("intent", string(analysis.Intent)).
		Dur("duration", time.Since(start)).
		Msg("Email processing completed")

	return out, nil
}

func (p *Processor) translate(ctx context.Context, parsed *email.ProcessedEmail, target, mailbox string) (*Outcome, error) {
	start := time.Now()
	defer p.observe("translation", start)

	out := &Outcome{Email: parsed.Summary()}
	if !p.firstSeen(ctx, parsed) {
		out.Status = StatusDuplicate
		out.Message = "邮件已处理过，跳过"
		return out, nil
	}

	result := p.opts.Translator.Translate(ctx, parsed, target)
	out.Translation = &result
	p.count(func(m *metrics.Metrics) { m.Translations.WithLabelValues(target).Inc() })

	rec := &storage.EmailRecord{
		Kind:        storage.KindTranslation,
		MailboxName: mailbox,
		Email:       *parsed,
		Analysis:    marshal(result),
		Status:      storage.EmailStatusCompleted,
	}

	if !result.Success {
		out.Status = StatusSkipped
		out.Message = result.Error
		rec.Status = storage.EmailStatusFailed
		p.activity(ctx, "translation_failed", "error", map[string]any{
			"error":           result.Error,
			"from":            parsed.From,
			"target_language": target,
		})
		out.Saved = p.save(ctx, rec)
		return out, nil
	}

	subject, body := translate.ResultEmail(result, parsed.AnalysisText())
	msg := &email.OutboundEmail{
		To:        []email.Address{{Address: parsed.From}},
		Subject:   subject,
		TextBody:  body,
		InReplyTo: parsed.MessageID,
	}
	if p.opts.TranslationFrom.Address != "" {
		replyTo := p.opts.TranslationFrom
		msg.ReplyTo = &replyTo
	}
	sent := p.opts.Mailer.Send(ctx, msg)
	out.SendResult = &sent
	rec.SendResult = marshal(sent)
	rec.Sent = sent.Success

	if sent.Success {
		out.Status = StatusTranslated
		out.Message = fmt.Sprintf("翻译结果已通过%s发送", sent.Method)
		p.activity(ctx, "translation_sent", "info", map[string]any{
			"to":                parsed.From,
			"target_language":   target,
			"original_language": result.OriginalLanguage,
			"message_id":        parsed.MessageID,
		})
	} else {
		out.Status = StatusAnalyzed
		out.Message = "翻译完成，但结果发送失败"
		rec.Status = storage.EmailStatusFailed
		p.activity(ctx, "translation_send_failed", "error", map[string]any{
			"to":              parsed.From,
			"error":           sent.Error,
			"target_language": target,
		})
	}

	p.activity(ctx, "translation_completed", "info", map[string]any{
		"from":              parsed.From,
		"target_language":   target,
		"original_language": result.OriginalLanguage,
		"degraded":          result.Degraded,
		"message_id":        parsed.MessageID,
	})

	out.Saved = p.save(ctx, rec)
	return out, nil
}

func (p *Processor) save(ctx context.Context, rec *storage.EmailRecord) bool {
	if err := p.opts.Store.SaveEmail(ctx, rec); err != nil {
		p.logger.Error().Err(err).Str("message_id", rec.Email.MessageID).Msg("Failed to save email")
		return false
	}
	return true
}

// activity writes to the journal. Journal failures are logged only.
func (p *Processor) activity(ctx context.Context, activityType, level string, details map[string]any) {
	if err := p.opts.Store.LogActivity(ctx, activityType, level, details); err != nil {
		p.logger.Warn().Err(err).Str("activity_type", activityType).Msg("Failed to log activity")
	}
}

func (p *Processor) count(fn func(m *metrics.Metrics)) {
	if p.opts.Metrics != nil {
		fn(p.opts.Metrics)
	}
}

func (p *Processor) countAnalysis(a analyzer.AnalysisResult) {
	outcome := "model"
	if a.Fallback {
		outcome = "fallback"
	}
	p.count(func(m *metrics.Metrics) { m.Analyses.WithLabelValues(outcome).Inc() })
}

func (p *Processor) observe(pipeline string, start time.Time) {
	p.count(func(m *metrics.Metrics) {
		m.ProcessingTime.WithLabelValues(pipeline).Observe(time.Since(start).Seconds())
	})
}

func marshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
