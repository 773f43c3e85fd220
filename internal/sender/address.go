package sender

import (
	"regexp"
	"strings"
)

var (
	angleAddrPattern = regexp.MustCompile(`<([^>]+)>`)
	addrPattern      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ExtractAddress returns the bare address of "Name <a@b>" or the trimmed
// input when there are no angle brackets.
func ExtractAddress(s string) string {
	if m := angleAddrPattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

// ValidAddress reports whether s, after ExtractAddress, looks like a mailbox.
func ValidAddress(s string) bool {
	if s == "" {
		return false
	}
	return addrPattern.MatchString(ExtractAddress(s))
}

// ReplySubject prefixes subject with "Re: " unless it already starts with it.
func ReplySubject(subject string) string {
	if strings.HasPrefix(subject, "Re:") {
		return subject
	}
	return "Re: " + subject
}
