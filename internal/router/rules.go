package router

import (
	"fmt"

	"github.com/emitt/replyd/internal/config"
	"github.com/emitt/replyd/internal/email"
)

// Rule represents a compiled routing rule
type Rule struct {
	Name      string
	Match     *config.CompiledMatch
	Processor *config.ProcessorConfig
}

// Matches checks if an email matches this rule. Address patterns are tested
// against bare addresses; a To pattern passes when any recipient matches.
func (r *Rule) Matches(e *email.ProcessedEmail) bool {
	if r.Match.From != nil && !r.Match.From.MatchString(e.FromAddress()) {
		return false
	}

	if r.Match.To != nil {
		matched := false
		for _, to := range e.ToAddresses() {
			if r.Match.To.MatchString(to) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if r.Match.Subject != nil && !r.Match.Subject.MatchString(e.Subject) {
		return false
	}

	return true
}

// RuleSet is a collection of routing rules
type RuleSet struct {
	rules []*Rule
}

// NewRuleSet creates a new RuleSet from mailbox configurations
func NewRuleSet(mailboxes []config.MailboxConfig) (*RuleSet, error) {
	rs := &RuleSet{
		rules: make([]*Rule, 0, len(mailboxes)),
	}

	for i, mb := range mailboxes {
		compiled, err := mb.Match.Compile()
		if err != nil {
			return nil, fmt.Errorf("mailbox %q: %w", mb.Name, err)
		}

		rule := &Rule{
			Name:      mb.Name,
			Match:     compiled,
			Processor: &mailboxes[i].Processor,
		}
		rs.rules = append(rs.rules, rule)
	}

	return rs, nil
}

// FindMatch finds the first matching rule for an email
func (rs *RuleSet) FindMatch(e *email.ProcessedEmail) *Rule {
	for _, rule := range rs.rules {
		if rule.Matches(e) {
			return rule
		}
	}
	return nil
}

// Rules returns all rules
func (rs *RuleSet) Rules() []*Rule {
	return rs.rules
}
