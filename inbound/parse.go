// Package inbound turns raw RFC 5322 bytes into a model.InboundMessage.
//
// Bodies are transfer-decoded (base64, quoted-printable) but left in their
// declared charset: charset conversion belongs to the body selector, which
// needs the raw bytes to fall back on when a charset cannot be applied.
package inbound

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/mail-receiver/model"
)

// maxDepth bounds multipart nesting.
const maxDepth = 16

var ErrTooDeep = errors.New("multipart nesting too deep")

// ParseError reports a message whose header block could not be read.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse message: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse reads a raw email into an InboundMessage.
func Parse(raw []byte) (*model.InboundMessage, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	header, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	mh := mail.Header{Header: message.Header{Header: header}}
	msg := &model.InboundMessage{
		MessageID: messageID(mh),
		To:        addressList(mh, "To"),
		From:      addressList(mh, "From"),
		Subject:   subject(mh),
	}

	ent, err := readEntity(header, br)
	if err != nil {
		return nil, err
	}
	msg.ContentType = ent.mediaType
	msg.Charset = ent.charset
	msg.Body = ent.body
	msg.Multipart = ent.multipart

	if ent.multipart {
		parts, err := flatten(ent, 1)
		if err != nil {
			return nil, err
		}
		msg.Parts = parts
	}

	return msg, nil
}

type entity struct {
	mediaType   string
	params      map[string]string
	charset     string
	disposition string
	multipart   bool
	body        []byte
}

// readEntity decodes the transfer encoding of one entity without applying
// its charset. go-message would convert the charset itself whenever a
// global charset reader is registered, so the parameter is removed from a
// copy of the header before handing it over. A body whose transfer
// encoding is broken is kept as read from the wire.
func readEntity(header textproto.Header, body io.Reader) (*entity, error) {
	h := message.Header{Header: header.Copy()}

	mediaType, params, err := h.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
		params = map[string]string{}
	}
	disposition, _, _ := h.ContentDisposition()

	ent := &entity{
		mediaType:   mediaType,
		params:      params,
		charset:     strings.ToLower(strings.TrimSpace(params["charset"])),
		disposition: strings.ToLower(disposition),
		multipart:   strings.HasPrefix(mediaType, "multipart/"),
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", mediaType, err)
	}
	if ent.multipart {
		ent.body = raw
		return ent, nil
	}

	if _, ok := params["charset"]; ok {
		stripped := make(map[string]string, len(params))
		for k, v := range params {
			if k != "charset" {
				stripped[k] = v
			}
		}
		h.SetContentType(mediaType, stripped)
	}

	ent.body = raw
	e, err := message.New(h, bytes.NewReader(raw))
	if err != nil && !message.IsUnknownEncoding(err) && !message.IsUnknownCharset(err) {
		return ent, nil
	}
	if decoded, err := io.ReadAll(e.Body); err == nil {
		ent.body = decoded
	}
	return ent, nil
}

// flatten walks a multipart entity depth-first and returns its leaf parts
// in document order.
func flatten(parent *entity, depth int) ([]model.Part, error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}
	boundary := parent.params["boundary"]
	if boundary == "" {
		return nil, nil
	}

	var parts []model.Part
	mr := textproto.NewMultipartReader(bytes.NewReader(parent.body), boundary)
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil {
			// A truncated trailer still leaves the parts read so far usable.
			if len(parts) > 0 {
				return parts, nil
			}
			return nil, fmt.Errorf("read multipart part: %w", err)
		}

		child, err := readEntity(p.Header, p)
		if err != nil {
			return nil, err
		}

		if child.multipart {
			nested, err := flatten(child, depth+1)
			if err != nil {
				return nil, err
			}
			parts = append(parts, nested...)
			continue
		}

		parts = append(parts, model.Part{
			ContentType: child.mediaType,
			Charset:     child.charset,
			Disposition: child.disposition,
			Body:        child.body,
		})
	}
}

func messageID(h mail.Header) string {
	id, err := h.MessageID()
	if err == nil && id != "" {
		return id
	}
	return strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>")
}

func subject(h mail.Header) string {
	s, err := h.Subject()
	if err != nil {
		return strings.TrimSpace(h.Get("Subject"))
	}
	return s
}

// addressList returns the bare addresses of a header. Headers that do not
// parse as an RFC 5322 address list are split leniently on commas.
func addressList(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err == nil {
		out := make([]string, 0, len(list))
		for _, addr := range list {
			if addr.Address != "" {
				out = append(out, addr.Address)
			}
		}
		return out
	}

	var out []string
	for _, field := range strings.Split(h.Get(key), ",") {
		field = strings.TrimSpace(field)
		if start := strings.LastIndex(field, "<"); start >= 0 {
			if end := strings.Index(field[start:], ">"); end > 0 {
				field = field[start+1 : start+end]
			}
		}
		if field != "" {
			out = append(out, field)
		}
	}
	return out
}

// Summary holds the header fields sources and reports need without
// decoding the body.
type Summary struct {
	MessageID string
	Subject   string
	From      []string
	To        []string
	Date      time.Time
}

// Summarize reads only the header block of raw.
func Summarize(raw []byte) (Summary, error) {
	header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return Summary{}, &ParseError{Err: err}
	}

	mh := mail.Header{Header: message.Header{Header: header}}
	s := Summary{
		MessageID: messageID(mh),
		Subject:   subject(mh),
		From:      addressList(mh, "From"),
		To:        addressList(mh, "To"),
	}
	if date, err := mh.Date(); err == nil {
		s.Date = date
	}
	return s, nil
}

// NewMessage wraps raw as a model.Message keyed by its Message-Id and
// dated by its Date header. Messages whose header cannot be read still get
// a generated id; the receiver reports them as errors later.
func NewMessage(raw []byte, source string) model.Message {
	summary, _ := Summarize(raw)
	msg := model.NewMessage(summary.MessageID, raw, source)
	msg.ReceivedAt = summary.Date
	return msg
}
