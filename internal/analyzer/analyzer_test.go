package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCompleter is a func-field fake for Completer.
type mockCompleter struct {
	CompleteFunc func(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
	prompts      []string
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt, maxTokens, temperature)
	}
	return "", errors.New("no response configured")
}

func respond(text string) *mockCompleter {
	return &mockCompleter{
		CompleteFunc: func(context.Context, string, int, float32) (string, error) {
			return text, nil
		},
	}
}

const fencedResponse = "Sure, here is the analysis:\n```json\n" + `{
  "intent": "inquiry",
  "urgency": "high",
  "can_auto_reply": "true",
  "chinese_summary": "询问报价",
  "todo_items": ["准备报价", "发送目录"],
  "main_topic": "报价",
  "requires_info": "",
  "sentiment": "positive",
  "need_reply": true,
  "reply_content": "Hi"
}` + "\n```\nLet me know if you need anything else."

func TestAnalyzeEmptyContentReturnsDefault(t *testing.T) {
	m := respond(fencedResponse)
	a := NewAnalyzer(m, 100, 0.7, zerolog.Nop())

	got := a.Analyze(context.Background(), "", "bob@example.com", "")

	assert.Equal(t, "zh", got.DetectedLanguage)
	assert.True(t, got.NeedReply)
	assert.Equal(t, "", got.ReplyContent)
	assert.True(t, got.Fallback)
	assert.Empty(t, m.prompts)
}

func TestAnalyzeParsesFencedBlock(t *testing.T) {
	m := respond(fencedResponse)
	a := NewAnalyzer(m, 100, 0.7, zerolog.Nop())

	got := a.Analyze(context.Background(), "Could you send me a price list?", "bob@example.com", "")

	assert.Equal(t, IntentInquiry, got.Intent)
	assert.Equal(t, UrgencyHigh, got.Urgency)
	assert.True(t, got.CanAutoReply)
	assert.Equal(t, "询问报价", got.ChineseSummary)
	assert.Equal(t, []string{"准备报价", "发送目录"}, got.TodoItems)
	assert.Equal(t, SentimentPositive, got.Sentiment)
	assert.True(t, got.NeedReply)
	assert.Equal(t, "Hi", got.ReplyContent)
	assert.Equal(t, "en", got.DetectedLanguage)
	assert.Equal(t, "bob@example.com", got.Sender)
	assert.False(t, got.Fallback)
}

func TestAnalyzeFallsBackOnError(t *testing.T) {
	m := &mockCompleter{
		CompleteFunc: func(context.Context, string, int, float32) (string, error) {
			return "", context.DeadlineExceeded
		},
	}
	a := NewAnalyzer(m, 100, 0.7, zerolog.Nop())

	content := "这是一封需要处理的中文邮件，请尽快回复我们关于合同的问题。"
	got := a.Analyze(context.Background(), content, "bob@example.com", "")

	assert.True(t, got.Fallback)
	assert.Equal(t, IntentOther, got.Intent)
	assert.Equal(t, UrgencyMedium, got.Urgency)
	assert.Equal(t, "zh", got.DetectedLanguage)
	assert.Equal(t, content, got.ChineseSummary)
	assert.Equal(t, []string{"人工处理邮件"}, got.TodoItems)
}

func TestAnalyzeFallsBackOnGarbage(t *testing.T) {
	a := NewAnalyzer(respond("I cannot help with that."), 100, 0.7, zerolog.Nop())

	got := a.Analyze(context.Background(), "Hello there", "", "")

	assert.True(t, got.Fallback)
	assert.Equal(t, "需要人工翻译", got.ChineseSummary)
	assert.Equal(t, "en", got.DetectedLanguage)
}

func TestAnalyzePassesParametersAndInstruction(t *testing.T) {
	var gotTokens int
	var gotTemp float32
	var gotPrompt string
	m := &mockCompleter{
		CompleteFunc: func(_ context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
			gotPrompt, gotTokens, gotTemp = prompt, maxTokens, temperature
			return `{"intent":"request"}`, nil
		},
	}
	a := NewAnalyzer(m, 4096, 0.5, zerolog.Nop())

	got := a.Analyze(context.Background(), "Please update the invoice", "", "reply in a formal tone")

	assert.Equal(t, IntentRequest, got.Intent)
	assert.Equal(t, 4096, gotTokens)
	assert.InDelta(t, 0.5, gotTemp, 0.0001)
	assert.Contains(t, gotPrompt, "reply in a formal tone")
	assert.Contains(t, gotPrompt, "Please update the invoice")
	assert.Contains(t, gotPrompt, "```json")
}

func TestDefaultTruncatesSummary(t *testing.T) {
	content := strings.Repeat("中", 150)
	got := Default(content, "zh")
	assert.Equal(t, strings.Repeat("中", 100), got.ChineseSummary)
}

func TestParseResponse(t *testing.T) {
	t.Run("bare object with prose", func(t *testing.T) {
		got, err := ParseResponse(`Result: {"intent":"meeting","todo_items":"book room"} thanks`)
		require.NoError(t, err)
		assert.Equal(t, IntentMeeting, got.Intent)
		assert.Equal(t, []string{"book room"}, got.TodoItems)
	})

	t.Run("whole text", func(t *testing.T) {
		_, err := ParseResponse(`[1,2,3]`)
		assert.Error(t, err)
	})

	t.Run("null", func(t *testing.T) {
		_, err := ParseResponse(`null`)
		assert.ErrorIs(t, err, ErrNotObject)
	})

	t.Run("legacy summary key", func(t *testing.T) {
		got, err := ParseResponse(`{"chinese_content":"摘要"}`)
		require.NoError(t, err)
		assert.Equal(t, "摘要", got.ChineseSummary)
	})

	t.Run("coerces unknown enums", func(t *testing.T) {
		got, err := ParseResponse(`{"intent":"spam","urgency":"urgent","sentiment":"angry","need_reply":"false","can_auto_reply":1}`)
		require.NoError(t, err)
		assert.Equal(t, IntentOther, got.Intent)
		assert.Equal(t, UrgencyMedium, got.Urgency)
		assert.Equal(t, SentimentNeutral, got.Sentiment)
		assert.False(t, got.NeedReply)
		assert.True(t, got.CanAutoReply)
		assert.Equal(t, []string{}, got.TodoItems)
	})

	t.Run("invalid fenced block does not fall through", func(t *testing.T) {
		_, err := ParseResponse("```json\n{not json}\n```\n{\"intent\":\"order\"}")
		assert.Error(t, err)
	})
}
