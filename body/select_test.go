package body

import (
	"testing"

	"golang.org/x/text/encoding/charmap"

	"github.com/dhcgn/mail-receiver/model"
)

func TestSelectPrefersPlainRegardlessOfOrder(t *testing.T) {
	plain := model.Part{ContentType: "text/plain", Charset: "utf-8", Body: []byte("plain wins")}
	html := model.Part{ContentType: "text/html", Charset: "utf-8", Body: []byte("<p>html loses</p>")}

	orders := map[string][]model.Part{
		"plain first": {plain, html},
		"html first":  {html, plain},
	}
	for name, parts := range orders {
		t.Run(name, func(t *testing.T) {
			msg := &model.InboundMessage{ContentType: "multipart/alternative", Multipart: true, Parts: parts}
			text, found := Select(msg)
			if !found || text != "plain wins" {
				t.Errorf("Select() = %q, %v", text, found)
			}
		})
	}
}

func TestSelectFallsBackToFirstHTMLPart(t *testing.T) {
	msg := &model.InboundMessage{
		ContentType: "multipart/alternative",
		Multipart:   true,
		Parts: []model.Part{
			{ContentType: "image/png", Body: []byte{0x89, 'P', 'N', 'G'}},
			{ContentType: "text/html", Body: []byte("<p>first</p>")},
			{ContentType: "text/html", Body: []byte("<p>second</p>")},
		},
	}
	text, found := Select(msg)
	if !found || text != "first" {
		t.Errorf("Select() = %q, %v", text, found)
	}
}

func TestSelectSkipsAttachments(t *testing.T) {
	msg := &model.InboundMessage{
		ContentType: "multipart/mixed",
		Multipart:   true,
		Parts: []model.Part{
			{ContentType: "text/plain", Disposition: "attachment", Body: []byte("log file")},
			{ContentType: "text/html", Body: []byte("<p>reply</p>")},
		},
	}
	text, found := Select(msg)
	if !found || text != "reply" {
		t.Errorf("Select() = %q, %v", text, found)
	}
}

func TestSelectTopLevelHTML(t *testing.T) {
	msg := &model.InboundMessage{
		ContentType: "text/html",
		Charset:     "utf-8",
		Body:        []byte(`<div id="BB10_response_div">Reply text</div><div>Signature boilerplate</div>`),
	}
	text, found := Select(msg)
	if !found || text != "Reply text" {
		t.Errorf("Select() = %q, %v", text, found)
	}
}

func TestSelectRawBody(t *testing.T) {
	msg := &model.InboundMessage{ContentType: "text/plain", Body: []byte("  \n just text \n\n")}
	text, found := Select(msg)
	if !found || text != "just text" {
		t.Errorf("Select() = %q, %v", text, found)
	}
}

func TestSelectCorruptedBody(t *testing.T) {
	for _, body := range []string{
		"hello\nContent-Type: text/html\n",
		"This is a multipart/alternative message",
		"leaked text/plain marker",
	} {
		msg := &model.InboundMessage{ContentType: "text/plain", Body: []byte(body)}
		if text, found := Select(msg); found {
			t.Errorf("Select(%q) = %q, want not found", body, text)
		}
	}
}

func TestSelectMultipartWithoutTextParts(t *testing.T) {
	msg := &model.InboundMessage{
		ContentType: "multipart/mixed",
		Multipart:   true,
		Body:        []byte("--b\r\nContent-Type: image/png\r\n\r\n...\r\n--b--\r\n"),
		Parts:       []model.Part{{ContentType: "image/png", Body: []byte("...")}},
	}
	if _, found := Select(msg); found {
		t.Error("expected not found for multipart body without text parts")
	}
}

func TestSelectNil(t *testing.T) {
	if _, found := Select(nil); found {
		t.Error("expected not found for nil message")
	}
}

func TestDecodeCharsetRoundTrip(t *testing.T) {
	const visible = "Grüße aus Köln, ça va?"
	raw, err := charmap.ISO8859_1.NewEncoder().String(visible)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	text, found := Select(&model.InboundMessage{ContentType: "text/plain", Charset: "iso-8859-1", Body: []byte(raw)})
	if !found || text != visible {
		t.Fatalf("Select() = %q, %v", text, found)
	}

	back, err := charmap.ISO8859_1.NewEncoder().String(text)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if back != raw {
		t.Errorf("round trip changed bytes: %q != %q", back, raw)
	}
}

func TestDecodeFallsBackToRaw(t *testing.T) {
	part := TextPart{Kind: KindPlain, Charset: "x-no-such-charset", Raw: []byte("as is")}
	if got := part.Decode(); got != "as is" {
		t.Errorf("Decode() = %q", got)
	}

	invalid := TextPart{Kind: KindPlain, Raw: []byte("ok\xff\xfe!")}
	if got := invalid.Decode(); got != "ok!" {
		t.Errorf("Decode() = %q, want invalid bytes dropped", got)
	}
}

func TestDecodeSniffsHTMLMeta(t *testing.T) {
	raw := []byte("<html><head><meta charset=\"iso-8859-1\"></head><body>caf\xe9</body></html>")
	part := TextPart{Kind: KindHTML, Raw: raw}
	if got := part.Decode(); got != "<html><head><meta charset=\"iso-8859-1\"></head><body>café</body></html>" {
		t.Errorf("Decode() = %q", got)
	}
}
