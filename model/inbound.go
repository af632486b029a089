package model

import "strings"

// InboundMessage is the parsed form of a raw email. It is built once by the
// inbound parser and never modified afterwards.
type InboundMessage struct {
	MessageID   string
	To          []string
	From        []string
	Subject     string
	ContentType string
	Charset     string
	Multipart   bool

	// Body is the transfer-decoded top-level body. For multipart messages
	// it holds the undecoded multipart stream, boundaries included.
	Body []byte

	// Parts lists the leaf parts of a multipart message in document order.
	Parts []Part
}

// Part is one leaf MIME part. Body is transfer-decoded but still in the
// part's declared charset.
type Part struct {
	ContentType string
	Charset     string
	Disposition string
	Body        []byte
}

// IsAttachment reports whether the part was sent with an attachment disposition.
func (p Part) IsAttachment() bool {
	return strings.EqualFold(p.Disposition, "attachment")
}

// FirstTo returns the first recipient address or "" when there is none.
func (m *InboundMessage) FirstTo() string {
	if len(m.To) == 0 {
		return ""
	}
	return m.To[0]
}

// FirstFrom returns the first sender address or "" when there is none.
func (m *InboundMessage) FirstFrom() string {
	if len(m.From) == 0 {
		return ""
	}
	return m.From[0]
}
