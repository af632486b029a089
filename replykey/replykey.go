// Package replykey recovers the routing token embedded in a generated
// reply address such as "reply+<key>@example.com".
package replykey

import (
	"errors"
	"strings"
)

// Placeholder marks the token position in a reply address template.
const Placeholder = "%{reply_key}"

var ErrNoPlaceholder = errors.New("reply address template must contain " + Placeholder)

// Extract removes every occurrence of the template's fixed fragments from
// address and returns what is left. Fragments are removed in template
// order as plain substrings.
func Extract(address, template string) string {
	for _, fragment := range strings.Split(template, Placeholder) {
		if fragment == "" {
			continue
		}
		address = strings.ReplaceAll(address, fragment, "")
	}
	return address
}

// Pick returns the token of the first address that contains every fixed
// fragment of the template. Addresses are compared case-insensitively.
func Pick(addresses []string, template string) (string, bool) {
	fragments := nonEmptyFragments(template)
	for _, addr := range addresses {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" || !containsAll(addr, fragments) {
			continue
		}
		if key := Extract(addr, strings.ToLower(template)); key != "" {
			return key, true
		}
	}
	return "", false
}

// Validate reports whether template can be used for Extract.
func Validate(template string) error {
	if !strings.Contains(template, Placeholder) {
		return ErrNoPlaceholder
	}
	return nil
}

func nonEmptyFragments(template string) []string {
	var out []string
	for _, fragment := range strings.Split(strings.ToLower(template), Placeholder) {
		if fragment != "" {
			out = append(out, fragment)
		}
	}
	return out
}

func containsAll(s string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
