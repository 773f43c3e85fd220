// Package analyzer classifies inbound mail with a single model call and
// falls back to a deterministic result whenever that call cannot be used.
package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/emitt/replyd/internal/heuristics"
)

// Completer sends one prompt to a completion endpoint.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}

// Analyzer produces an AnalysisResult for message content.
type Analyzer struct {
	llm         Completer
	maxTokens   int
	temperature float32
	logger      zerolog.Logger
}

// NewAnalyzer creates an analyzer calling llm with the given parameters.
func NewAnalyzer(llm Completer, maxTokens int, temperature float32, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		llm:         llm,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger.With().Str("component", "analyzer").Logger(),
	}
}

// Analyze classifies content. It never fails: any problem reaching or
// decoding the model yields Default for the detected language.
func (a *Analyzer) Analyze(ctx context.Context, content, sender, instruction string) AnalysisResult {
	if content == "" {
		return Default("", heuristics.LangChinese)
	}

	language := heuristics.DetectLanguage(content)

	start := time.Now()
	result, err := a.tryAnalyze(ctx, content, language, instruction)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("sender", sender).
			Str("language", language).
			Msg("Analysis failed, using default result")
		return Default(content, language)
	}

	result.DetectedLanguage = language
	result.Sender = sender

	a.logger.Info().
		Str("sender", sender).
		Str("intent", string(result.Intent)).
		Str("urgency", string(result.Urgency)).
		Bool("can_auto_reply", result.CanAutoReply).
		Bool("has_draft", result.HasDraft()).
		Dur("duration", time.Since(start)).
		Msg("Analysis completed")

	return result
}

func (a *Analyzer) tryAnalyze(ctx context.Context, content, language, instruction string) (AnalysisResult, error) {
	prompt := BuildPrompt(content, language, instruction)

	response, err := a.llm.Complete(ctx, prompt, a.maxTokens, a.temperature)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("completion failed: %w", err)
	}

	result, err := ParseResponse(response)
	if err != nil {
		a.logger.Debug().Str("response", response).Msg("Unparseable analysis response")
		return AnalysisResult{}, err
	}
	return result, nil
}
