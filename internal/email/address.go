package email

import (
	"strings"

	"github.com/emersion/go-message/mail"
)

// FromAddress returns the bare address of the From header, or the trimmed
// header text when it does not parse.
func (e *ProcessedEmail) FromAddress() string {
	addrs := parseAddressList(e.From)
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}

// ToAddresses returns the bare addresses of the To header.
func (e *ProcessedEmail) ToAddresses() []string {
	return parseAddressList(e.To)
}

func parseAddressList(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	list, err := mail.ParseAddressList(header)
	if err != nil {
		var out []string
		for _, part := range strings.Split(header, ",") {
			part = strings.TrimSpace(part)
			if i := strings.LastIndex(part, "<"); i >= 0 {
				part = strings.TrimSuffix(part[i+1:], ">")
			}
			if part != "" {
				out = append(out, part)
			}
		}
		return out
	}

	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}
