package email

import (
	"unicode/utf8"
)

// maxRawSize is the largest decoded message Validate accepts.
const maxRawSize = 10 * 1024 * 1024

// Address represents an email address with optional name
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// String returns the formatted address
func (a Address) String() string {
	if a.Name != "" {
		return a.Name + " <" + a.Address + ">"
	}
	return a.Address
}

// Attachment is metadata for a part sent with attachment disposition.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// ProcessedEmail is a parsed inbound message. Header fields hold the header
// text as sent (RFC 2047 words decoded, addresses not normalized). An empty
// TextContent or HTMLContent means the message had no such body.
type ProcessedEmail struct {
	From        string       `json:"from"`
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	Date        string       `json:"date"`
	MessageID   string       `json:"message_id"`
	TextContent string       `json:"text_content,omitempty"`
	HTMLContent string       `json:"html_content,omitempty"`
	Attachments []Attachment `json:"attachments"`
	RawSize     int          `json:"raw_size"`
}

// HasText reports whether a text/plain body was found.
func (e *ProcessedEmail) HasText() bool {
	return e.TextContent != ""
}

// Content returns the text body, falling back to the HTML body.
func (e *ProcessedEmail) Content() string {
	if e.TextContent != "" {
		return e.TextContent
	}
	return e.HTMLContent
}

// AnalysisText returns the body as plain text: the text part when present,
// otherwise the HTML part rendered to text.
func (e *ProcessedEmail) AnalysisText() string {
	if e.TextContent != "" {
		return e.TextContent
	}
	if e.HTMLContent != "" {
		return HTMLToText(e.HTMLContent)
	}
	return ""
}

// Summary is a compact view of a ProcessedEmail for logs and API responses.
type Summary struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Subject         string `json:"subject"`
	Date            string `json:"date"`
	MessageID       string `json:"message_id"`
	ContentLength   int    `json:"content_length"`
	HasAttachments  bool   `json:"has_attachments"`
	AttachmentCount int    `json:"attachment_count"`
	RawSize         int    `json:"raw_size"`
	ContentPreview  string `json:"content_preview"`
}

// Summary returns the summary view of the message.
func (e *ProcessedEmail) Summary() Summary {
	content := e.Content()
	return Summary{
		From:            e.From,
		To:              e.To,
		Subject:         e.Subject,
		Date:            e.Date,
		MessageID:       e.MessageID,
		ContentLength:   utf8.RuneCountInString(content),
		HasAttachments:  len(e.Attachments) > 0,
		AttachmentCount: len(e.Attachments),
		RawSize:         e.RawSize,
		ContentPreview:  TruncateRunes(content, 200),
	}
}

// Validate returns the list of integrity problems found, empty when none.
func (e *ProcessedEmail) Validate() []string {
	var problems []string
	if e.From == "" {
		problems = append(problems, "缺少发件人信息")
	}
	if e.To == "" {
		problems = append(problems, "缺少收件人信息")
	}
	if e.TextContent == "" && e.HTMLContent == "" {
		problems = append(problems, "邮件内容为空")
	}
	if e.RawSize > maxRawSize {
		problems = append(problems, "邮件大小超过限制")
	}
	return problems
}

// OutboundEmail represents an email to be sent
type OutboundEmail struct {
	From       Address   `json:"from"`
	To         []Address `json:"to"`
	ReplyTo    *Address  `json:"reply_to,omitempty"`
	Subject    string    `json:"subject"`
	TextBody   string    `json:"text_body"`
	HTMLBody   string    `json:"html_body,omitempty"`
	InReplyTo  string    `json:"in_reply_to,omitempty"`
	References []string  `json:"references,omitempty"`
}

// Recipients returns the bare addresses of all To recipients.
func (o *OutboundEmail) Recipients() []string {
	addrs := make([]string, len(o.To))
	for i, a := range o.To {
		addrs[i] = a.Address
	}
	return addrs
}

// TruncateRunes returns at most n runes of s.
func TruncateRunes(s string, n int) string {
	if n < 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
