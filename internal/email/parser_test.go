package email

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(msg string) []byte {
	return []byte(strings.ReplaceAll(msg, "\n", "\r\n"))
}

func encode(msg string) string {
	return base64.StdEncoding.EncodeToString(crlf(msg))
}

func newTestParser(max int) *Parser {
	return NewParser(max, zerolog.Nop())
}

const multipartMessage = `From: Alice <alice@example.com>
To: bot@example.com
Subject: Quarterly report
Message-ID: <abc@example.com>
Date: Mon, 02 Jan 2006 15:04:05 -0700
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain; charset=utf-8

Plain body
--inner
Content-Type: text/html; charset=utf-8

<p>HTML body</p>
--inner--
--outer
Content-Type: application/pdf; name="report.pdf"
Content-Disposition: attachment; filename="report.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQ=
--outer
Content-Type: text/plain
Content-Disposition: attachment

no filename here
--outer--
`

func TestParseMultipart(t *testing.T) {
	p := newTestParser(0)
	raw := encode(multipartMessage)

	got, err := p.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "Alice <alice@example.com>", got.From)
	assert.Equal(t, "bot@example.com", got.To)
	assert.Equal(t, "Quarterly report", got.Subject)
	assert.Equal(t, "<abc@example.com>", got.MessageID)
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 -0700", got.Date)
	assert.Equal(t, "Plain body", got.TextContent)
	assert.Equal(t, "<p>HTML body</p>", got.HTMLContent)
	assert.Equal(t, len(crlf(multipartMessage)), got.RawSize)

	require.Len(t, got.Attachments, 1)
	assert.Equal(t, Attachment{Filename: "report.pdf", ContentType: "application/pdf", Size: 8}, got.Attachments[0])
}

func TestParseIsIdempotent(t *testing.T) {
	p := newTestParser(0)
	raw := encode(multipartMessage)

	first, err := p.Parse(raw)
	require.NoError(t, err)
	second, err := p.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestParseJoinsTextParts(t *testing.T) {
	msg := `From: a@example.com
To: b@example.com
Subject: parts
Content-Type: multipart/mixed; boundary="b"

--b
Content-Type: text/plain

First
--b
Content-Type: text/plain


--b
Content-Type: text/plain

Second
--b--
`
	got, err := newTestParser(0).Parse(encode(msg))
	require.NoError(t, err)

	assert.Equal(t, "First\n\nSecond", got.TextContent)
	assert.Empty(t, got.HTMLContent)
	assert.Empty(t, got.Attachments)
}

func TestParseSkipsUndecodablePart(t *testing.T) {
	msg := `From: alice@example.com
To: bot@example.com
Subject: Broken part
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="b"

--b
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: base64

!!!not*base64!!!
--b
Content-Type: text/plain; charset=utf-8

Second
--b--
`
	got, err := newTestParser(0).Parse(encode(msg))
	require.NoError(t, err)

	assert.Equal(t, "Second", got.TextContent)
	assert.Equal(t, "Broken part", got.Subject)
}

func TestParseSinglePart(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantText    string
		wantHTML    string
	}{
		{"plain", "text/plain; charset=utf-8", "hello", "hello", ""},
		{"html", "text/html; charset=utf-8", "<b>hi</b>", "", "<b>hi</b>"},
		{"other", "application/octet-stream", "binary", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := "From: a@example.com\nTo: b@example.com\nSubject: s\nContent-Type: " + tt.contentType + "\n\n" + tt.body
			got, err := newTestParser(0).Parse(encode(msg))
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, got.TextContent)
			assert.Equal(t, tt.wantHTML, got.HTMLContent)
			assert.Empty(t, got.Attachments)
		})
	}
}

func TestParseDefaultSubject(t *testing.T) {
	got, err := newTestParser(0).Parse(encode("From: a@example.com\nTo: b@example.com\n\nbody"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSubject, got.Subject)
	assert.Equal(t, "body", got.TextContent)
}

func TestParseEncodedSubject(t *testing.T) {
	got, err := newTestParser(0).Parse(encode("From: a@example.com\nSubject: =?UTF-8?B?5L2g5aW9?=\n\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "你好", got.Subject)
}

func TestParseGBKBody(t *testing.T) {
	msg := "From: a@example.com\nSubject: gbk\nContent-Type: text/plain; charset=gbk\nContent-Transfer-Encoding: quoted-printable\n\n=C4=E3=BA=C3"
	got, err := newTestParser(0).Parse(encode(msg))
	require.NoError(t, err)
	assert.Equal(t, "你好", got.TextContent)
}

func TestParseInvalidUTF8IsReplaced(t *testing.T) {
	msg := "From: a@example.com\nSubject: bad\nContent-Type: text/plain; charset=utf-8\n\nab\xffcd"
	got, err := newTestParser(0).Parse(encode(msg))
	require.NoError(t, err)
	assert.Equal(t, "ab�cd", got.TextContent)
}

func TestParseTruncates(t *testing.T) {
	msg := "From: a@example.com\nSubject: long\nContent-Type: text/plain; charset=utf-8\n\n一二三四五六七八九十十一"
	got, err := newTestParser(10).Parse(encode(msg))
	require.NoError(t, err)
	assert.Equal(t, "一二三四五六七八九十"+TruncationMarker, got.TextContent)
}

func TestParseInvalidBase64(t *testing.T) {
	_, err := newTestParser(0).Parse("not base64 !!!")
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}

func TestParseAcceptsWrappedBase64(t *testing.T) {
	raw := encode("From: a@example.com\nSubject: wrapped\n\nbody")
	wrapped := raw[:10] + "\n" + raw[10:]

	got, err := newTestParser(0).Parse(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "wrapped", got.Subject)
}

func TestSummaryAndValidate(t *testing.T) {
	e := &ProcessedEmail{
		From:        "a@example.com",
		Subject:     "s",
		TextContent: strings.Repeat("x", 300),
		Attachments: []Attachment{{Filename: "a.txt"}},
		RawSize:     11 * 1024 * 1024,
	}

	s := e.Summary()
	assert.Equal(t, 300, s.ContentLength)
	assert.Len(t, s.ContentPreview, 200)
	assert.True(t, s.HasAttachments)
	assert.Equal(t, 1, s.AttachmentCount)

	assert.Equal(t, []string{"缺少收件人信息", "邮件大小超过限制"}, e.Validate())
}

func TestAnalysisTextFallsBackToHTML(t *testing.T) {
	e := &ProcessedEmail{HTMLContent: "<p>Hello <b>world</b></p><div>Second</div>"}
	assert.Equal(t, "Hello world\nSecond", e.AnalysisText())

	e.TextContent = "plain wins"
	assert.Equal(t, "plain wins", e.AnalysisText())
}

func TestHTMLToTextSkipsScripts(t *testing.T) {
	got := HTMLToText("<html><head><style>p{}</style></head><body><script>x()</script><p>Visible</p></body></html>")
	assert.Equal(t, "Visible", got)
}

func TestAddressAccessors(t *testing.T) {
	e := &ProcessedEmail{
		From: `"Alice Example" <alice@example.com>`,
		To:   "bob@example.com, Carol <carol@example.com>",
	}
	assert.Equal(t, "alice@example.com", e.FromAddress())
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, e.ToAddresses())

	loose := &ProcessedEmail{From: "broken <x@y", To: ""}
	assert.Equal(t, "x@y", loose.FromAddress())
	assert.Empty(t, loose.ToAddresses())
}
