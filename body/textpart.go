package body

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"github.com/dhcgn/mail-receiver/model"
)

// Kind tells how a decoded TextPart is to be interpreted.
type Kind int

const (
	KindPlain Kind = iota
	KindHTML
	// KindRaw is the top-level body of a message that offered no usable
	// text part.
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindHTML:
		return "html"
	default:
		return "raw"
	}
}

// TextPart is a body candidate in its declared charset.
type TextPart struct {
	Kind    Kind
	Charset string
	Raw     []byte
}

// FromPart wraps a MIME part as a candidate of the given kind.
func FromPart(kind Kind, p model.Part) TextPart {
	return TextPart{Kind: kind, Charset: p.Charset, Raw: p.Body}
}

// Decode converts the part to UTF-8. When the charset is unknown or the
// conversion fails the raw bytes are used as-is. Invalid UTF-8 sequences
// are dropped from the result.
func (p TextPart) Decode() string {
	label := strings.TrimSpace(p.Charset)

	var enc encoding.Encoding
	switch {
	case label != "":
		enc, _ = charset.Lookup(label)
	case p.Kind == KindHTML && !utf8.Valid(p.Raw):
		// no declared charset: honour a <meta charset> or BOM in the document
		enc, _, _ = charset.DetermineEncoding(p.Raw, "text/html")
	}

	text := string(p.Raw)
	if enc != nil {
		if decoded, err := decodeWith(enc, p.Raw); err == nil {
			text = decoded
		}
	}

	return strings.ToValidUTF8(text, "")
}

func decodeWith(enc encoding.Encoding, raw []byte) (string, error) {
	r := transform.NewReader(bytes.NewReader(raw), enc.NewDecoder())
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
