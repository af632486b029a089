// Package quote cuts a reply body at the first line that looks like the
// start of quoted correspondence.
package quote

import (
	"regexp"
	"strings"
)

// Settings holds the site-specific strings some rules match against.
type Settings struct {
	// SiteTitle enables the "via <title> ...:" rule.
	SiteTitle string
	// PreviousDiscussion is the localized heading of earlier replies in
	// outgoing notification mails.
	PreviousDiscussion string
}

// Rule is a named predicate deciding whether a line starts quoted content.
// The line is passed with its terminator.
type Rule struct {
	Name  string
	Match func(line string) bool
}

var (
	separatorRe  = regexp.MustCompile(`\A\s*-{3,80}\s*\z`)
	yearRe       = regexp.MustCompile(`\d{4}`)
	clockRe      = regexp.MustCompile(`\d:\d\d`)
	colonAtEndRe = regexp.MustCompile(`:$`)
)

// DefaultRules builds the rule table for the given settings, in evaluation
// order. Rules depending on an empty setting are left out.
func DefaultRules(s Settings) []Rule {
	rules := []Rule{
		{Name: "separator", Match: separatorRe.MatchString},
	}

	if phrase := strings.TrimSpace(s.PreviousDiscussion); phrase != "" {
		re := regexp.MustCompile(`\A\s*` + regexp.QuoteMeta(phrase) + `\s*\z`)
		rules = append(rules, Rule{Name: "previous-discussion", Match: re.MatchString})
	}

	if title := strings.TrimSpace(s.SiteTitle); title != "" {
		re := regexp.MustCompile(`via ` + regexp.QuoteMeta(title) + `(.*):$`)
		rules = append(rules, Rule{Name: "via-site", Match: func(line string) bool {
			return re.MatchString(chomp(line))
		}})
	}

	// Catches "On <date> at <time>, X wrote:" in any language.
	rules = append(rules, Rule{Name: "dated-header", Match: func(line string) bool {
		line = chomp(line)
		return yearRe.MatchString(line) && clockRe.MatchString(line) && colonAtEndRe.MatchString(line)
	}})

	return rules
}

// Trimmer truncates bodies using an ordered rule table. It is safe for
// concurrent use.
type Trimmer struct {
	rules []Rule
}

// NewTrimmer builds the built-in rule table for s. Rules whose setting is
// empty are left out.
func NewTrimmer(s Settings) *Trimmer {
	return &Trimmer{rules: DefaultRules(s)}
}

// WithRules returns a copy of the trimmer with extra rules evaluated after
// the existing ones.
func (t *Trimmer) WithRules(extra ...Rule) *Trimmer {
	rules := make([]Rule, 0, len(t.rules)+len(extra))
	rules = append(rules, t.rules...)
	rules = append(rules, extra...)
	return &Trimmer{rules: rules}
}

// Rules returns the rule table in evaluation order.
func (t *Trimmer) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Trim keeps every line before the first boundary line and trims the
// result. The first line is always kept, even when it is a boundary
// itself.
func (t *Trimmer) Trim(body string) string {
	text, _ := t.TrimWithRule(body)
	return text
}

// TrimWithRule is Trim that also reports the name of the rule that stopped
// the scan, or "" when the whole body was kept.
func (t *Trimmer) TrimWithRule(body string) (string, string) {
	lines := Lines(strings.ToValidUTF8(body, ""))
	if len(lines) == 0 {
		return "", ""
	}

	keepUntil := 0
	stoppedBy := ""
scan:
	for idx, line := range lines {
		for _, rule := range t.rules {
			if rule.Match(line) {
				stoppedBy = rule.Name
				break scan
			}
		}
		keepUntil = idx
	}

	return strings.TrimSpace(strings.Join(lines[:keepUntil+1], "")), stoppedBy
}

// Lines splits s after each "\n", keeping the terminators. A trailing
// line without terminator is kept as well.
func Lines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func chomp(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
