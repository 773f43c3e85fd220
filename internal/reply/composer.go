// Package reply turns an analysis into the subject and body of the message
// sent back to the original sender.
package reply

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/emitt/replyd/internal/analyzer"
	"github.com/emitt/replyd/internal/heuristics"
)

// Reply is a composed outbound subject and body.
type Reply struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Composer renders replies. Signature is printed under every template.
type Composer struct {
	signature       string
	defaultLanguage string

	now  func() time.Time
	intn func(n int) int
}

// NewComposer creates a composer signing with signature. defaultLanguage is
// used for forwarded mail whose analysis carries no detected language.
func NewComposer(signature, defaultLanguage string) *Composer {
	if defaultLanguage == "" {
		defaultLanguage = heuristics.LangChinese
	}
	return &Composer{
		signature:       signature,
		defaultLanguage: defaultLanguage,
		now:             time.Now,
		intn:            rand.IntN,
	}
}

// Compose builds the reply for a message with the given subject and content.
//
// A model-supplied draft wins. Otherwise the auto-reply template is used when
// the analysis allows it, and the information-request template when it does
// not. Forwarded mail is answered in the detected language, direct mail in
// Chinese. The cleaned original is quoted under every body.
func (c *Composer) Compose(a analyzer.AnalysisResult, subject, content string, forwarded bool) Reply {
	language := heuristics.LangChinese
	if forwarded {
		language = orDefault(a.DetectedLanguage, c.defaultLanguage)
	}
	english := language == heuristics.LangEnglish

	topic := orDefault(a.MainTopic, defaultTopic)

	var r Reply
	switch {
	case a.HasDraft():
		r = Reply{Subject: "Re: " + subject, Body: a.ReplyContent}
	case a.CanAutoReply && english:
		r = Reply{
			Subject: "Re: " + subject,
			Body:    englishAutoReply(topic, a.ChineseSummary, c.signature),
		}
	case a.CanAutoReply:
		r = Reply{
			Subject: "Re: " + subject,
			Body:    chineseAutoReply(topic, autoReplyDetails(a), c.ticketID(), c.signature),
		}
	case english:
		r = Reply{
			Subject: "Re: " + subject + " - Additional Information Needed",
			Body:    englishInfoRequest(topic, orDefault(a.RequiresInfo, defaultRequiredInfo), c.signature),
		}
	default:
		r = Reply{
			Subject: "Re: " + subject + " - 需要补充信息",
			Body:    chineseInfoRequest(topic, infoRequestDetails(a), formatRequiredInfo(a.RequiresInfo), c.signature),
		}
	}

	r.Body = appendQuote(r.Body, content, language)
	return r
}

// ticketID is "TK" followed by the last six digits of the unix time and four
// random digits.
func (c *Composer) ticketID() string {
	secs := fmt.Sprintf("%d", c.now().Unix())
	if len(secs) > 6 {
		secs = secs[len(secs)-6:]
	}
	return fmt.Sprintf("TK%s%d", secs, 1000+c.intn(9000))
}

