package model

import (
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// Message represents a single raw email as delivered by a source (mbox
// archive, IMAP mailbox, file or stdin).
type Message struct {
	ID         string
	Hash       string
	ReceivedAt time.Time
	Size       int64
	Raw        []byte
	Source     string
}

// Envelope wraps a message alongside an optional error encountered while decoding.
type Envelope struct {
	Message Message
	Err     error
}

// NewMessage builds a Message from raw bytes. An empty id is replaced by a
// random UUID so messages without a Message-Id header can still be tracked.
func NewMessage(id string, raw []byte, source string) Message {
	if id == "" {
		id = uuid.NewString()
	}
	return Message{
		ID:     id,
		Hash:   HashRaw(raw),
		Size:   int64(len(raw)),
		Raw:    raw,
		Source: source,
	}
}

// HashRaw returns the base64 encoded sha256 of a raw message.
func HashRaw(raw []byte) string {
	sum := sha256.Sum256(raw)
	return base64.StdEncoding.EncodeToString(sum[:])
}
