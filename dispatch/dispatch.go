// Package dispatch decides what a processed email becomes downstream: a
// reply to an existing conversation or a new topic. It hands the decision
// to a Sink and leaves persistence to whoever consumes the sink.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dhcgn/mail-receiver/model"
)

// ErrNotFound is returned by Lookup implementations for unknown keys.
var ErrNotFound = errors.New("not found")

// Reasons reported in model.Result.Reason.
const (
	ReasonUnknownReplyKey = "unknown-reply-key"
	ReasonUnknownSender   = "unknown-sender"
	ReasonLookupFailed    = "lookup-failed"
	ReasonDeliveryFailed  = "delivery-failed"
)

// EmailLog records an outgoing notification so that replies to it can be
// routed back to the conversation.
type EmailLog struct {
	ReplyKey   string `db:"reply_key" json:"reply_key"`
	TopicID    int64  `db:"topic_id" json:"topic_id"`
	PostNumber int    `db:"post_number" json:"post_number"`
	UserEmail  string `db:"user_email" json:"user_email"`
}

type User struct {
	ID       int64  `db:"id" json:"id"`
	Email    string `db:"email" json:"email"`
	Username string `db:"username" json:"username"`
}

type Lookup interface {
	EmailLogFor(ctx context.Context, replyKey string) (EmailLog, error)
	UserByEmail(ctx context.Context, email string) (User, error)
}

type Kind string

const (
	KindReply    Kind = "reply"
	KindNewTopic Kind = "new-topic"
)

// Delivery is what a sink receives for each accepted email.
type Delivery struct {
	Kind              Kind      `json:"kind"`
	MessageID         string    `json:"message_id,omitempty"`
	ReplyKey          string    `json:"reply_key,omitempty"`
	TopicID           int64     `json:"topic_id,omitempty"`
	ReplyToPostNumber int       `json:"reply_to_post_number,omitempty"`
	Title             string    `json:"title,omitempty"`
	CategoryID        int64     `json:"category_id,omitempty"`
	Author            string    `json:"author"`
	Body              string    `json:"body"`
	CreatedAt         time.Time `json:"created_at"`
}

type Sink interface {
	Deliver(ctx context.Context, d Delivery) error
}

type Dispatcher struct {
	// Lookup may be nil, in which case every reply key is unknown.
	Lookup         Lookup
	Sink           Sink
	AllowNewTopics bool
	// CategoryID is attached to new topics.
	CategoryID int64
	Logger     *slog.Logger

	now func() time.Time
}

// Dispatch routes a processed result. Results that are not processed are
// returned unchanged. The returned error is non-nil only when the sink or
// the lookup failed; the result then carries OutcomeError as well.
func (d *Dispatcher) Dispatch(ctx context.Context, res model.Result) (model.Result, error) {
	if !res.Processed() {
		return res, nil
	}

	delivery := Delivery{
		MessageID: res.MessageID,
		ReplyKey:  res.ReplyKey,
		Body:      res.Body,
		CreatedAt: d.clock(),
	}

	entry, err := d.emailLog(ctx, res.ReplyKey)
	switch {
	case err == nil:
		delivery.Kind = KindReply
		delivery.TopicID = entry.TopicID
		delivery.ReplyToPostNumber = entry.PostNumber
		delivery.Author = entry.UserEmail
	case !errors.Is(err, ErrNotFound):
		return d.fail(res, ReasonLookupFailed, fmt.Errorf("email log %q: %w", res.ReplyKey, err))
	case !d.AllowNewTopics:
		res.Outcome = model.OutcomeMissing
		res.Reason = ReasonUnknownReplyKey
		d.log(slog.LevelInfo, "no conversation for reply key", "messageID", res.MessageID, "replyKey", res.ReplyKey)
		return res, nil
	default:
		user, err := d.user(ctx, res.From)
		if errors.Is(err, ErrNotFound) {
			res.Outcome = model.OutcomeUnprocessable
			res.Reason = ReasonUnknownSender
			d.log(slog.LevelInfo, "sender not allowed to open topics", "messageID", res.MessageID, "from", res.From)
			return res, nil
		}
		if err != nil {
			return d.fail(res, ReasonLookupFailed, fmt.Errorf("user %q: %w", res.From, err))
		}
		delivery.Kind = KindNewTopic
		delivery.Title = res.Subject
		delivery.CategoryID = d.CategoryID
		delivery.Author = user.Email
	}

	if d.Sink != nil {
		if err := d.Sink.Deliver(ctx, delivery); err != nil {
			return d.fail(res, ReasonDeliveryFailed, fmt.Errorf("deliver %s: %w", delivery.Kind, err))
		}
	}

	d.log(slog.LevelDebug, "email dispatched", "messageID", res.MessageID, "kind", delivery.Kind)
	return res, nil
}

func (d *Dispatcher) emailLog(ctx context.Context, key string) (EmailLog, error) {
	if d.Lookup == nil || strings.TrimSpace(key) == "" {
		return EmailLog{}, ErrNotFound
	}
	return d.Lookup.EmailLogFor(ctx, key)
}

func (d *Dispatcher) user(ctx context.Context, email string) (User, error) {
	if d.Lookup == nil || strings.TrimSpace(email) == "" {
		return User{}, ErrNotFound
	}
	return d.Lookup.UserByEmail(ctx, email)
}

func (d *Dispatcher) fail(res model.Result, reason string, err error) (model.Result, error) {
	res.Outcome = model.OutcomeError
	res.Reason = reason
	res.Err = err
	d.log(slog.LevelWarn, "dispatch failed", "messageID", res.MessageID, "reason", reason, "err", err)
	return res, err
}

func (d *Dispatcher) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) log(level slog.Level, msg string, args ...any) {
	if d.Logger != nil {
		d.Logger.Log(context.Background(), level, msg, args...)
	}
}
