// Package heuristics holds the side-effect free text classifiers used by the
// reply and translation pipelines.
package heuristics

import (
	"strings"
	"unicode"
)

// Language codes produced by the detectors.
const (
	LangChinese = "zh"
	LangEnglish = "en"
	LangFrench  = "fr"
	LangGerman  = "de"
	LangSpanish = "es"
	LangUnknown = "unknown"
)

// Diacritic sets checked in priority order once no ASCII letters are found.
var diacriticSets = []struct {
	lang  string
	chars string
}{
	{LangFrench, "àáâãäåæçèéêëìíîïðñòóôõöøùúûüýþÿ"},
	{LangGerman, "äöüß"},
	{LangSpanish, "áéíóúñü"},
}

// isCJK reports whether r is in the CJK Unified Ideographs block.
func isCJK(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// DetectLanguage classifies text for the analysis path. CJK ideographs
// outnumbering ASCII letters means zh; any ASCII letter means en; otherwise
// the French, German and Spanish diacritic sets are tried in that order.
// Empty text is zh.
func DetectLanguage(text string) string {
	if text == "" {
		return LangChinese
	}

	var cjk, latin int
	for _, r := range text {
		switch {
		case isCJK(r):
			cjk++
		case isASCIILetter(r):
			latin++
		}
	}

	if cjk > latin {
		return LangChinese
	}
	if latin > 0 {
		return LangEnglish
	}

	lower := strings.ToLower(text)
	for _, set := range diacriticSets {
		if strings.ContainsAny(lower, set.chars) {
			return set.lang
		}
	}
	return LangEnglish
}

// DetectSourceLanguage classifies text for the translation path: zh when more
// than 30% of the non-whitespace runes are CJK ideographs, en when any ASCII
// letter is present, unknown otherwise.
func DetectSourceLanguage(text string) string {
	if text == "" {
		return LangUnknown
	}

	var cjk, total int
	hasLetter := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if isCJK(r) {
			cjk++
		}
		if isASCIILetter(r) {
			hasLetter = true
		}
	}

	if total == 0 {
		return LangUnknown
	}
	if float64(cjk)/float64(total) > 0.3 {
		return LangChinese
	}
	if hasLetter {
		return LangEnglish
	}
	return LangUnknown
}
