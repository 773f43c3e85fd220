package heuristics

import (
	"strings"
	"unicode/utf8"
)

var (
	subjectForwardIndicators = []string{"fwd:", "fw:", "转发:", "转：", "forward:", "forwarded:"}

	bodyHeaderTokens = []string{"from:", "sent:", "to:", "subject:"}

	bodyForwardIndicators = []string{
		"forwarded message",
		"转发的邮件",
		"转发邮件",
		"original message",
		"原始邮件",
		"---------- forwarded message",
	}

	instructionSeparators = []string{
		"---------- forwarded message ----------",
		"-------- original message --------",
		"-----original message-----",
		"begin forwarded message:",
		"转发邮件",
		"原始邮件",
		"---------- 转发的邮件 ----------",
		"-------- 原邮件 --------",
		"from:",
		"sent:",
		"to:",
		"subject:",
		"发件人:",
		"发送时间:",
		"收件人:",
		"主题:",
	}
)

// minInstructionRunes is the shortest text accepted as a user instruction.
const minInstructionRunes = 3

// IsForwarded reports whether a message looks like one a user forwarded on.
func IsForwarded(subject, content string) bool {
	if subject == "" && content == "" {
		return false
	}

	subjectLower := strings.ToLower(subject)
	for _, indicator := range subjectForwardIndicators {
		if strings.Contains(subjectLower, indicator) {
			return true
		}
	}

	if content == "" {
		return false
	}

	contentLower := strings.ToLower(content)

	headers := 0
	for _, token := range bodyHeaderTokens {
		if strings.Contains(contentLower, token) {
			headers++
		}
	}
	if headers >= 2 {
		return true
	}

	for _, indicator := range bodyForwardIndicators {
		if strings.Contains(contentLower, indicator) {
			return true
		}
	}
	return false
}

// ExtractUserInstruction returns the note a user typed above a forwarded
// message: the non-blank lines preceding the first forwarding banner or
// header line. Non-forwarded content never yields an instruction.
func ExtractUserInstruction(content string, isForwarded bool) string {
	if content == "" || !isForwarded {
		return ""
	}

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if isSeparator(strings.ToLower(trimmed)) {
			break
		}
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}

	instruction := strings.TrimSpace(strings.Join(lines, "\n"))
	if utf8.RuneCountInString(instruction) < minInstructionRunes {
		return ""
	}
	return instruction
}

func isSeparator(lineLower string) bool {
	for _, sep := range instructionSeparators {
		if strings.Contains(lineLower, sep) {
			return true
		}
	}
	return false
}
