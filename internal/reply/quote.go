package reply

import (
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

const (
	quoteHeaderEnglish = "\n\n--- Original Message ---\n"
	quoteHeaderChinese = "\n\n--- 原邮件 ---\n"
)

// appendQuote appends original under a quote header chosen by language.
// Blank originals leave body untouched.
func appendQuote(body, original, language string) string {
	if strings.TrimSpace(original) == "" {
		return body
	}

	header := quoteHeaderChinese
	if language == "en" {
		header = quoteHeaderEnglish
	}

	lines := strings.Split(cleanOriginal(original), "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return body + header + strings.Join(lines, "\n")
}

// cleanOriginal strips tags, trims every line, collapses runs of blank lines
// to one and drops leading and trailing blank lines.
func cleanOriginal(content string) string {
	content = tagPattern.ReplaceAllString(content, "")

	var lines []string
	prevBlank := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if !prevBlank {
				lines = append(lines, "")
			}
			prevBlank = true
			continue
		}
		lines = append(lines, line)
		prevBlank = false
	}

	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
