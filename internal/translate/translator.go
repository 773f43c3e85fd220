// Package translate renders inbound mail into another language with the
// completion endpoint.
package translate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/emitt/replyd/internal/email"
	"github.com/emitt/replyd/internal/heuristics"
)

// DefaultTemperature keeps translations close to the source wording.
const DefaultTemperature = 0.3

const (
	previewLength   = 500
	sameLanguageMsg = "原始语言与目标语言相同，无需翻译"
)

// ErrUnsupportedLanguage is returned for target codes outside the supported table.
var ErrUnsupportedLanguage = errors.New("unsupported target language")

// languages maps supported codes to the display names used in prompts.
var languages = map[string]string{
	"zh": "中文",
	"en": "英文",
	"ja": "日文",
	"ko": "韩文",
	"fr": "法文",
	"de": "德文",
	"es": "西班牙文",
	"ru": "俄文",
}

// Language is one entry of the supported-language table.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SupportedLanguages returns the supported languages ordered by code.
func SupportedLanguages() []Language {
	out := make([]Language, 0, len(languages))
	for code, name := range languages {
		out = append(out, Language{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// IsSupported reports whether code is a supported target language.
func IsSupported(code string) bool {
	_, ok := languages[code]
	return ok
}

// DisplayName returns the prompt name for code, or code itself when unknown.
func DisplayName(code string) string {
	if name, ok := languages[code]; ok {
		return name
	}
	return code
}

// Completer sends one prompt to a completion endpoint.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}

// Result is the outcome of translating one message. Degraded is set when at
// least one field kept its original text because the call failed.
type Result struct {
	Success           bool   `json:"success"`
	OriginalLanguage  string `json:"original_language"`
	TargetLanguage    string `json:"target_language"`
	TranslatedSubject string `json:"translated_subject"`
	TranslatedContent string `json:"translated_content"`
	Error             string `json:"error,omitempty"`
	Message           string `json:"message,omitempty"`
	OriginalSubject   string `json:"original_subject"`
	OriginalContent   string `json:"original_content"`
	From              string `json:"from_email,omitempty"`
	To                string `json:"to_email,omitempty"`
	MessageID         string `json:"message_id,omitempty"`
	Degraded          bool   `json:"degraded"`
}

// BatchItem is the outcome of translating one text of a batch.
type BatchItem struct {
	Success    bool   `json:"success"`
	Original   string `json:"original"`
	Translated string `json:"translated"`
}

// Translator translates subjects and bodies independently.
type Translator struct {
	llm         Completer
	maxTokens   int
	temperature float32
	logger      zerolog.Logger
}

// NewTranslator creates a translator. maxTokens caps every call; a negative
// temperature selects DefaultTemperature.
func NewTranslator(llm Completer, maxTokens int, temperature float32, logger zerolog.Logger) *Translator {
	if temperature < 0 {
		temperature = DefaultTemperature
	}
	return &Translator{
		llm:         llm,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger.With().Str("component", "translator").Logger(),
	}
}

// Translate renders e into target. Failures of an individual field keep the
// original text for that field, so Success is false only for an unsupported
// target.
func (t *Translator) Translate(ctx context.Context, e *email.ProcessedEmail, target string) Result {
	content := e.AnalysisText()
	result := Result{
		TargetLanguage:  target,
		OriginalSubject: e.Subject,
		OriginalContent: preview(content),
		From:            e.From,
		To:              e.To,
		MessageID:       e.MessageID,
	}

	if !IsSupported(target) {
		result.Error = fmt.Sprintf("%v: %s", ErrUnsupportedLanguage, target)
		return result
	}

	source := heuristics.DetectSourceLanguage(content)
	result.OriginalLanguage = source
	result.Success = true

	if source == target {
		result.TranslatedSubject = e.Subject
		result.TranslatedContent = content
		result.Message = sameLanguageMsg
		return result
	}

	var subjectOK, contentOK bool
	result.TranslatedSubject, subjectOK = t.translateField(ctx, e.Subject, source, target, "subject")
	result.TranslatedContent, contentOK = t.translateField(ctx, content, source, target, "content")
	result.Degraded = !subjectOK || !contentOK

	t.logger.Info().
		Str("message_id", e.MessageID).
		Str("source", source).
		Str("target", target).
		Bool("degraded", result.Degraded).
		Msg("Email translated")

	return result
}

// BatchTranslate translates each text from source to target.
func (t *Translator) BatchTranslate(ctx context.Context, texts []string, source, target string) []BatchItem {
	items := make([]BatchItem, len(texts))
	for i, text := range texts {
		translated, ok := t.translateField(ctx, text, source, target, "batch")
		items[i] = BatchItem{Success: ok, Original: text, Translated: translated}
	}
	return items
}

func (t *Translator) translateField(ctx context.Context, text, source, target, field string) (string, bool) {
	translated, err := t.TranslateText(ctx, text, source, target)
	if err != nil {
		t.logger.Error().Err(err).Str("field", field).Msg("Translation failed, keeping original text")
		return text, false
	}
	return translated, true
}

// TranslateText translates one text. Blank text is returned unchanged.
func (t *Translator) TranslateText(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	response, err := t.llm.Complete(ctx, buildPrompt(text, source, target), t.tokenBudget(text), t.temperature)
	if err != nil {
		return "", fmt.Errorf("failed to translate text: %w", err)
	}
	return strings.TrimSpace(response), nil
}

// tokenBudget is twice the rune count plus 1000, capped by the configured
// maximum.
func (t *Translator) tokenBudget(text string) int {
	budget := 2*utf8.RuneCountInString(text) + 1000
	if t.maxTokens > 0 && t.maxTokens < budget {
		return t.maxTokens
	}
	return budget
}

func buildPrompt(text, source, target string) string {
	return fmt.Sprintf("请将以下%s文本翻译成%s，保持原文的语气、格式和专业术语。只返回翻译结果，不要添加任何解释或说明。\n\n原文：\n%s\n\n翻译：",
		DisplayName(source), DisplayName(target), text)
}

func preview(content string) string {
	if utf8.RuneCountInString(content) > previewLength {
		return email.TruncateRunes(content, previewLength) + "..."
	}
	return content
}
