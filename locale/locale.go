// Package locale provides the localized phrases that notification emails
// contain, so quoted copies of them can be recognized in replies.
package locale

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	Default = "en"

	KeyPreviousDiscussion = "previous_discussion"
)

//go:embed phrases.yaml
var phrasesYAML []byte

var (
	loadOnce sync.Once
	table    map[string]map[string]string
	loadErr  error
)

func load() (map[string]map[string]string, error) {
	loadOnce.Do(func() {
		table, loadErr = Parse(phrasesYAML)
	})
	return table, loadErr
}

// Parse reads a phrase table keyed by locale, then by phrase key.
func Parse(data []byte) (map[string]map[string]string, error) {
	var t map[string]map[string]string
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse phrase table: %w", err)
	}
	return t, nil
}

// Phrase returns key in locale, falling back to the default locale. Region
// suffixes such as "de-CH" or "pt_BR" fall back to their language first.
func Phrase(loc, key string) (string, error) {
	t, err := load()
	if err != nil {
		return "", err
	}
	for _, candidate := range candidates(loc) {
		if phrase, ok := t[candidate][key]; ok {
			return phrase, nil
		}
	}
	return "", fmt.Errorf("no phrase %q for locale %q", key, loc)
}

// Supported lists the locales of the embedded table.
func Supported() []string {
	t, err := load()
	if err != nil {
		return nil
	}
	locales := make([]string, 0, len(t))
	for loc := range t {
		locales = append(locales, loc)
	}
	sort.Strings(locales)
	return locales
}

func candidates(loc string) []string {
	loc = strings.ToLower(strings.TrimSpace(loc))
	loc = strings.ReplaceAll(loc, "_", "-")
	out := make([]string, 0, 3)
	if loc != "" {
		out = append(out, loc)
		if lang, _, ok := strings.Cut(loc, "-"); ok {
			out = append(out, lang)
		}
	}
	return append(out, Default)
}
