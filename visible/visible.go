// Package visible separates the text a person actually wrote from quoted
// history and signatures, following GitHub's email_reply_parser.
//
// The body is split into fragments while scanning from the last line to the
// first. Quoted, signature and blank fragments below all authored text are
// hidden; quoted text between authored paragraphs stays visible because it
// gives the reply its context.
package visible

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// Some clients wrap "On <date>, <name> wrote:" over several lines.
	multiLineHeaderRe = regexp.MustCompile(`(?sm)^(On\s.+?wrote:)$`)
	quoteHeaderRe     = regexp.MustCompile(`^On\s.*wrote:$`)
	// Delimiter lines ("-- ", "__"), short sign-offs ("-Bob") and mobile
	// footers. Matched against lines in reading order.
	signatureRe       = regexp.MustCompile(`^\s*(--|__)|^-\w|^Sent from my(\s*\w+){1,3}$`)
)

// Fragment is a run of lines of the same kind.
type Fragment struct {
	lines     []string
	content   string
	quoted    bool
	signature bool
	hidden    bool
}

func (f *Fragment) Quoted() bool    { return f.quoted }
func (f *Fragment) Signature() bool { return f.signature }
func (f *Fragment) Hidden() bool    { return f.hidden }
func (f *Fragment) String() string  { return f.content }

// Email is a parsed body, fragments in document order.
type Email []*Fragment

// String joins the visible fragments.
func (e Email) String() string {
	var parts []string
	for _, f := range e {
		if !f.hidden {
			parts = append(parts, f.content)
		}
	}
	return strings.TrimRightFunc(strings.Join(parts, "\n"), unicode.IsSpace)
}

// Text returns the visible text of body.
func Text(body string) string {
	return Parse(body).String()
}

// Parse splits body into fragments.
func Parse(body string) Email {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if m := multiLineHeaderRe.FindStringSubmatch(body); m != nil {
		body = strings.Replace(body, m[1], strings.ReplaceAll(m[1], "\n", " "), 1)
	}

	lines := strings.Split(body, "\n")
	p := &parser{}
	for i := len(lines) - 1; i >= 0; i-- {
		p.scan(lines[i])
	}
	p.finish()

	// fragments were collected bottom-up
	out := make(Email, len(p.fragments))
	for i, f := range p.fragments {
		out[len(p.fragments)-1-i] = f
	}
	return out
}

type parser struct {
	current      *Fragment
	fragments    []*Fragment
	foundVisible bool
}

func (p *parser) scan(line string) {
	isSignature := signatureRe.MatchString(line)
	if !isSignature {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	isQuoted := strings.HasPrefix(line, ">")

	// A blank line above a signature delimiter closes the signature block.
	if p.current != nil && line == "" {
		above := p.current.lines[len(p.current.lines)-1]
		if signatureRe.MatchString(above) {
			p.current.signature = true
			p.finish()
		}
	}

	if p.current != nil && (p.current.quoted == isQuoted ||
		(p.current.quoted && (line == "" || quoteHeaderRe.MatchString(line)))) {
		p.current.lines = append(p.current.lines, line)
		return
	}

	p.finish()
	p.current = &Fragment{quoted: isQuoted, lines: []string{line}}
}

func (p *parser) finish() {
	f := p.current
	if f == nil {
		return
	}
	p.current = nil

	// lines were appended bottom-up
	for i, j := 0, len(f.lines)-1; i < j; i, j = i+1, j-1 {
		f.lines[i], f.lines[j] = f.lines[j], f.lines[i]
	}
	f.content = strings.Join(f.lines, "\n")
	f.lines = nil

	if !p.foundVisible {
		if f.quoted || f.signature || strings.TrimSpace(f.content) == "" {
			f.hidden = true
		} else {
			p.foundVisible = true
		}
	}
	p.fragments = append(p.fragments, f)
}
