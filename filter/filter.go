// Package filter pre-screens raw emails before they reach the receiver.
// Patterns are regular expressions matched against the raw header block or
// the raw body; include and exclude lists cannot be combined.
package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// AutoReplyHeaders match headers set by vacation responders, mailing list
// software and bounce generators.
var AutoReplyHeaders = []string{
	`(?im)^Auto-Submitted:\s*auto-(replied|generated)`,
	`(?im)^Precedence:\s*(bulk|junk|list|auto_reply)`,
	`(?im)^X-Autoreply:`,
	`(?im)^X-Autorespond:`,
	`(?im)^Content-Type:\s*multipart/report;\s*report-type="?delivery-status`,
}

type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
	// SkipAutoReplies adds AutoReplyHeaders to the exclude list.
	SkipAutoReplies bool
}

type pattern struct {
	scope string
	re    *regexp.Regexp
}

type Filter struct {
	include []pattern
	exclude []pattern

	mu      sync.Mutex
	hits    map[string]int
	checked int
	dropped int
}

// PatternStat is the number of messages a single pattern decided.
type PatternStat struct {
	Scope   string
	Pattern string
	Hits    int
}

type Stats struct {
	Checked  int
	Dropped  int
	Patterns []PatternStat
}

func New(opts Options) (*Filter, error) {
	excludeHeader := opts.ExcludeHeader
	if opts.SkipAutoReplies {
		excludeHeader = append(append([]string{}, excludeHeader...), AutoReplyHeaders...)
	}

	var include, exclude []pattern
	for _, group := range []struct {
		name     string
		scope    string
		patterns []string
		dst      *[]pattern
	}{
		{"include-header", "header", opts.IncludeHeader, &include},
		{"include-body", "body", opts.IncludeBody, &include},
		{"exclude-header", "header", excludeHeader, &exclude},
		{"exclude-body", "body", opts.ExcludeBody, &exclude},
	} {
		compiled, err := compilePatterns(group.scope, group.patterns)
		if err != nil {
			return nil, fmt.Errorf("compile %s pattern: %w", group.name, err)
		}
		*group.dst = append(*group.dst, compiled...)
	}

	if len(include) > 0 && len(exclude) > 0 {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{include: include, exclude: exclude, hits: make(map[string]int)}, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f != nil && (len(f.include) > 0 || len(f.exclude) > 0)
}

// Allows reports whether raw passes the filter. It is safe for concurrent use.
func (f *Filter) Allows(raw []byte) bool {
	if !f.Active() {
		return true
	}

	header, body := SplitRawMessage(raw)
	allowed := true
	var decidedBy *pattern

	if len(f.include) > 0 {
		decidedBy = firstMatch(f.include, header, body)
		allowed = decidedBy != nil
	} else if decidedBy = firstMatch(f.exclude, header, body); decidedBy != nil {
		allowed = false
	}

	f.mu.Lock()
	f.checked++
	if !allowed {
		f.dropped++
	}
	if decidedBy != nil {
		f.hits[key(*decidedBy)]++
	}
	f.mu.Unlock()

	return allowed
}

// GetStats returns per-pattern hit counts, most frequent first.
func (f *Filter) GetStats() Stats {
	if f == nil {
		return Stats{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stats := Stats{Checked: f.checked, Dropped: f.dropped}
	for _, p := range append(append([]pattern{}, f.include...), f.exclude...) {
		stats.Patterns = append(stats.Patterns, PatternStat{
			Scope:   p.scope,
			Pattern: p.re.String(),
			Hits:    f.hits[key(p)],
		})
	}
	sort.SliceStable(stats.Patterns, func(i, j int) bool {
		return stats.Patterns[i].Hits > stats.Patterns[j].Hits
	})
	return stats
}

// SplitRawMessage splits a raw email at the first empty line.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compilePatterns(scope string, patterns []string) ([]pattern, error) {
	compiled := make([]pattern, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		compiled = append(compiled, pattern{scope: scope, re: re})
	}
	return compiled, nil
}

func firstMatch(patterns []pattern, header, body []byte) *pattern {
	for i := range patterns {
		text := header
		if patterns[i].scope == "body" {
			text = body
		}
		if patterns[i].re.Match(text) {
			return &patterns[i]
		}
	}
	return nil
}

func key(p pattern) string {
	return p.scope + "\x00" + p.re.String()
}
