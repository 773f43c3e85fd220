package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n```")
	bracedPattern     = regexp.MustCompile(`(?s)\{.*\}`)
)

// ErrNotObject is returned when the model answer decodes to something other
// than a JSON object.
var ErrNotObject = errors.New("analysis response is not a JSON object")

// extractJSON picks the JSON document out of a model answer: a fenced json
// block first, then the widest brace-delimited span, then the whole text.
func extractJSON(response string) string {
	if m := fencedJSONPattern.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := bracedPattern.FindString(response); m != "" {
		return m
	}
	return response
}

// ParseResponse decodes a model answer into an AnalysisResult. Loosely typed
// values are coerced: booleans may arrive as strings, a todo list as a
// single string, and unknown enum values fall back to other/medium/neutral.
func ParseResponse(response string) (AnalysisResult, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(extractJSON(response)), &fields); err != nil {
		return AnalysisResult{}, fmt.Errorf("failed to decode analysis: %w", err)
	}
	if fields == nil {
		return AnalysisResult{}, ErrNotObject
	}

	summary := asString(fields["chinese_summary"])
	if summary == "" {
		summary = asString(fields["chinese_content"])
	}

	return AnalysisResult{
		Intent:         ParseIntent(asString(fields["intent"])),
		Urgency:        ParseUrgency(asString(fields["urgency"])),
		CanAutoReply:   asBool(fields["can_auto_reply"]),
		ChineseSummary: summary,
		TodoItems:      asList(fields["todo_items"]),
		MainTopic:      asString(fields["main_topic"]),
		RequiresInfo:   asString(fields["requires_info"]),
		Sentiment:      ParseSentiment(asString(fields["sentiment"])),
		NeedReply:      asBool(fields["need_reply"]),
		ReplyContent:   asString(fields["reply_content"]),
	}, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1", "是", "需要", "可以":
			return true
		}
	}
	return false
}

func asList(v any) []string {
	switch t := v.(type) {
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(asString(item)); s != "" {
				items = append(items, s)
			}
		}
		return items
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	}
	return []string{}
}
