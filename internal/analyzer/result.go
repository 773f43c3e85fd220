package analyzer

import (
	"strings"

	"github.com/emitt/replyd/internal/email"
	"github.com/emitt/replyd/internal/heuristics"
)

// Intent is the purpose the sender had in writing.
type Intent string

const (
	IntentInquiry   Intent = "inquiry"
	IntentRequest   Intent = "request"
	IntentComplaint Intent = "complaint"
	IntentMeeting   Intent = "meeting"
	IntentOrder     Intent = "order"
	IntentSupport   Intent = "support"
	IntentOther     Intent = "other"
)

// Urgency of the message.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Sentiment of the message.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

var (
	validIntents = map[Intent]bool{
		IntentInquiry: true, IntentRequest: true, IntentComplaint: true, IntentMeeting: true,
		IntentOrder: true, IntentSupport: true, IntentOther: true,
	}
	validUrgencies  = map[Urgency]bool{UrgencyLow: true, UrgencyMedium: true, UrgencyHigh: true}
	validSentiments = map[Sentiment]bool{SentimentPositive: true, SentimentNeutral: true, SentimentNegative: true}
)

// ParseIntent maps s onto a known intent, other when unrecognised.
func ParseIntent(s string) Intent {
	i := Intent(strings.ToLower(strings.TrimSpace(s)))
	if validIntents[i] {
		return i
	}
	return IntentOther
}

// ParseUrgency maps s onto a known urgency, medium when unrecognised.
func ParseUrgency(s string) Urgency {
	u := Urgency(strings.ToLower(strings.TrimSpace(s)))
	if validUrgencies[u] {
		return u
	}
	return UrgencyMedium
}

// ParseSentiment maps s onto a known sentiment, neutral when unrecognised.
func ParseSentiment(s string) Sentiment {
	v := Sentiment(strings.ToLower(strings.TrimSpace(s)))
	if validSentiments[v] {
		return v
	}
	return SentimentNeutral
}

// AnalysisResult is the classification of one message. Fallback is set when
// the values come from the deterministic default rather than the model.
type AnalysisResult struct {
	Intent           Intent    `json:"intent"`
	Urgency          Urgency   `json:"urgency"`
	CanAutoReply     bool      `json:"can_auto_reply"`
	ChineseSummary   string    `json:"chinese_summary"`
	TodoItems        []string  `json:"todo_items"`
	MainTopic        string    `json:"main_topic"`
	RequiresInfo     string    `json:"requires_info"`
	Sentiment        Sentiment `json:"sentiment"`
	DetectedLanguage string    `json:"detected_language"`
	NeedReply        bool      `json:"need_reply"`
	ReplyContent     string    `json:"reply_content"`
	Sender           string    `json:"sender,omitempty"`
	Fallback         bool      `json:"fallback"`
}

// HasDraft reports whether the model supplied a reply to send as-is.
func (r AnalysisResult) HasDraft() bool {
	return r.NeedReply && r.ReplyContent != ""
}

// Default returns the analysis used whenever the model cannot be consulted or
// its answer cannot be decoded.
func Default(content, language string) AnalysisResult {
	summary := "需要人工翻译"
	if language == heuristics.LangChinese {
		summary = email.TruncateRunes(content, 100)
	}
	return AnalysisResult{
		Intent:           IntentOther,
		Urgency:          UrgencyMedium,
		CanAutoReply:     false,
		ChineseSummary:   summary,
		TodoItems:        []string{"人工处理邮件"},
		MainTopic:        "未知主题",
		RequiresInfo:     "需要人工分析",
		Sentiment:        SentimentNeutral,
		DetectedLanguage: language,
		NeedReply:        true,
		ReplyContent:     "",
		Fallback:         true,
	}
}
