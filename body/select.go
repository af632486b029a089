// Package body picks the best textual representation of an inbound email.
package body

import (
	"strings"

	"github.com/dhcgn/mail-receiver/htmltext"
	"github.com/dhcgn/mail-receiver/model"
)

// corruptionMarkers are MIME scaffolding strings that only show up in a
// decoded body when an upstream parser failed to split nested parts. A
// legitimate mail quoting MIME headers trips this as well.
var corruptionMarkers = []string{
	"Content-Type:",
	"multipart/alternative",
	"text/plain",
}

// Select returns the text of the best body candidate. found is false when
// the message offers nothing usable.
//
// A text/plain part wins unconditionally. Otherwise the first text/html
// part, or an HTML top-level body, is reduced to text. As a last resort the
// top-level body is used unless it still carries MIME scaffolding.
func Select(msg *model.InboundMessage) (text string, found bool) {
	candidate, ok := Candidate(msg)
	if !ok {
		return "", false
	}

	switch candidate.Kind {
	case KindPlain:
		return candidate.Decode(), true
	case KindHTML:
		if html := candidate.Decode(); strings.TrimSpace(html) != "" {
			return htmltext.Reduce(html), true
		}
		candidate = rawCandidate(msg)
	}

	text = strings.TrimSpace(candidate.Decode())
	if Corrupted(text) {
		return "", false
	}
	return text, true
}

// Candidate chooses the part Select will decode.
func Candidate(msg *model.InboundMessage) (TextPart, bool) {
	if msg == nil {
		return TextPart{}, false
	}

	var html *TextPart
	if msg.Multipart {
		for _, p := range msg.Parts {
			if p.IsAttachment() {
				continue
			}
			switch p.ContentType {
			case "text/plain":
				return FromPart(KindPlain, p), true
			case "text/html":
				if html == nil {
					tp := FromPart(KindHTML, p)
					html = &tp
				}
			}
		}
	}

	if msg.ContentType == "text/html" {
		html = &TextPart{Kind: KindHTML, Charset: msg.Charset, Raw: msg.Body}
	}
	if html != nil {
		return *html, true
	}

	return rawCandidate(msg), true
}

func rawCandidate(msg *model.InboundMessage) TextPart {
	return TextPart{Kind: KindRaw, Charset: msg.Charset, Raw: msg.Body}
}

// Corrupted reports whether text still contains MIME scaffolding.
func Corrupted(text string) bool {
	for _, marker := range corruptionMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
