package email

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/simplifiedchinese"
)

const (
	// DefaultMaxContentLength caps each body, in characters.
	DefaultMaxContentLength = 100000

	// TruncationMarker is appended to a body cut at the maximum length.
	TruncationMarker = "...[内容已截断]"

	// DefaultSubject is used when the message has no Subject header.
	DefaultSubject = "无主题"
)

func init() {
	// Mail from QQ/163 mailboxes often declares gbk, which go-message does not know.
	charset.RegisterEncoding("gbk", simplifiedchinese.GBK)
	charset.RegisterEncoding("gb18030", simplifiedchinese.GB18030)
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// ParseError is returned when a payload cannot be decoded into a message.
type ParseError struct {
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse email (%s): %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser turns raw inbound payloads into ProcessedEmail values.
type Parser struct {
	maxContentLength int
	logger           zerolog.Logger
}

// NewParser creates a new email parser
func NewParser(maxContentLength int, logger zerolog.Logger) *Parser {
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	return &Parser{
		maxContentLength: maxContentLength,
		logger:           logger.With().Str("component", "parser").Logger(),
	}
}

// Parse decodes a base64 payload and parses the message it contains.
func (p *Parser) Parse(rawBase64 string) (*ProcessedEmail, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(rawBase64), ""))
	if err != nil {
		return nil, &ParseError{Stage: "base64", Err: err}
	}
	return p.ParseBytes(raw)
}

// ParseBytes parses a raw RFC 5322 message.
func (p *Parser) ParseBytes(raw []byte) (*ProcessedEmail, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !isRecoverable(err) {
		return nil, &ParseError{Stage: "mime", Err: err}
	}

	header := entity.Header
	parsed := &ProcessedEmail{
		From:        headerText(header, "From"),
		To:          headerText(header, "To"),
		Subject:     headerText(header, "Subject"),
		Date:        header.Get("Date"),
		MessageID:   header.Get("Message-ID"),
		Attachments: []Attachment{},
		RawSize:     len(raw),
	}
	if !header.Has("Subject") {
		parsed.Subject = DefaultSubject
	}

	var plain, html []string
	if mr := entity.MultipartReader(); mr != nil {
		p.walk(mr, &plain, &html, &parsed.Attachments)
	} else {
		mediaType := contentType(entity)
		body, err := readBody(entity)
		if err != nil {
			p.logger.Warn().Err(err).Str("content_type", mediaType).Msg("Failed to decode message body")
		} else {
			switch mediaType {
			case "text/plain":
				plain = append(plain, body)
			case "text/html":
				html = append(html, body)
			}
		}
	}

	parsed.TextContent = p.truncate(joinNonBlank(plain))
	parsed.HTMLContent = p.truncate(joinNonBlank(html))

	p.logger.Debug().
		Str("from", parsed.From).
		Str("subject", parsed.Subject).
		Int("attachments", len(parsed.Attachments)).
		Int("raw_size", parsed.RawSize).
		Msg("Parsed email")

	return parsed, nil
}

// walk visits every part of a multipart body in document order.
func (p *Parser) walk(mr message.MultipartReader, plain, html *[]string, attachments *[]Attachment) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil && (part == nil || !isRecoverable(err)) {
			p.logger.Warn().Err(err).Msg("Failed to read message part, skipping remaining siblings")
			return
		}

		if inner := part.MultipartReader(); inner != nil {
			p.walk(inner, plain, html, attachments)
			continue
		}

		mediaType := contentType(part)
		disposition, dispParams, _ := part.Header.ContentDisposition()

		if disposition == "attachment" {
			filename := attachmentFilename(part, dispParams)
			if filename == "" {
				continue
			}
			data, err := io.ReadAll(part.Body)
			if err != nil {
				p.logger.Warn().Err(err).Str("filename", filename).Msg("Failed to decode attachment")
				continue
			}
			*attachments = append(*attachments, Attachment{
				Filename:    filename,
				ContentType: mediaType,
				Size:        int64(len(data)),
			})
			continue
		}

		if mediaType != "text/plain" && mediaType != "text/html" {
			continue
		}

		body, err := readBody(part)
		if err != nil {
			p.logger.Warn().Err(err).Str("content_type", mediaType).Msg("Failed to decode message part")
			continue
		}
		if mediaType == "text/plain" {
			*plain = append(*plain, body)
		} else {
			*html = append(*html, body)
		}
	}
}

// truncate cuts s to the configured number of characters.
func (p *Parser) truncate(s string) string {
	if utf8.RuneCountInString(s) <= p.maxContentLength {
		return s
	}
	return TruncateRunes(s, p.maxContentLength) + TruncationMarker
}

// isRecoverable reports whether go-message still produced a readable entity.
func isRecoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func contentType(e *message.Entity) string {
	mediaType, _, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		return "text/plain"
	}
	return strings.ToLower(mediaType)
}

// readBody reads an entity body, replacing bytes that are not valid UTF-8.
func readBody(e *message.Entity) (string, error) {
	data, err := io.ReadAll(e.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

func attachmentFilename(e *message.Entity, dispParams map[string]string) string {
	filename := dispParams["filename"]
	if filename == "" {
		_, params, _ := e.Header.ContentType()
		filename = params["name"]
	}
	return decodeHeader(filename)
}

func headerText(h message.Header, key string) string {
	text, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return text
}

// decodeHeader decodes RFC 2047 encoded header values
func decodeHeader(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func joinNonBlank(parts []string) string {
	kept := parts[:0]
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "\n\n")
}

// IsParseError reports whether err came from payload decoding.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
