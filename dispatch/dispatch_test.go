package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dhcgn/mail-receiver/model"
)

type fakeLookup struct {
	logs  map[string]EmailLog
	users map[string]User
	err   error
}

func (f fakeLookup) EmailLogFor(_ context.Context, key string) (EmailLog, error) {
	if f.err != nil {
		return EmailLog{}, f.err
	}
	if entry, ok := f.logs[key]; ok {
		return entry, nil
	}
	return EmailLog{}, ErrNotFound
}

func (f fakeLookup) UserByEmail(_ context.Context, email string) (User, error) {
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return User{}, ErrNotFound
}

type failingSink struct{}

func (failingSink) Deliver(context.Context, Delivery) error { return errors.New("disk full") }

func processed(key, from string) model.Result {
	return model.Result{
		Outcome:   model.OutcomeProcessed,
		State:     model.StateProcessed,
		MessageID: "m1@example.com",
		Subject:   "Question",
		From:      from,
		ReplyKey:  key,
		Body:      "Thanks!",
	}
}

func testLookup() fakeLookup {
	return fakeLookup{
		logs:  map[string]EmailLog{"abc123": {ReplyKey: "abc123", TopicID: 7, PostNumber: 3, UserEmail: "bob@example.com"}},
		users: map[string]User{"alice@example.com": {ID: 1, Email: "alice@example.com", Username: "alice"}},
	}
}

func TestDispatchReply(t *testing.T) {
	var buf bytes.Buffer
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	d := &Dispatcher{Lookup: testLookup(), Sink: NewJSONLSink(&buf), now: func() time.Time { return fixed }}

	res, err := d.Dispatch(context.Background(), processed("abc123", "bob@example.com"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !res.Processed() {
		t.Fatalf("outcome = %v", res.Outcome)
	}

	var got Delivery
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode delivery: %v", err)
	}
	want := Delivery{
		Kind:              KindReply,
		MessageID:         "m1@example.com",
		ReplyKey:          "abc123",
		TopicID:           7,
		ReplyToPostNumber: 3,
		Author:            "bob@example.com",
		Body:              "Thanks!",
		CreatedAt:         fixed,
	}
	if got != want {
		t.Errorf("delivery = %+v, want %+v", got, want)
	}
}

func TestDispatchUnknownKey(t *testing.T) {
	tests := []struct {
		name      string
		allow     bool
		from      string
		outcome   model.Outcome
		reason    string
		delivered int
	}{
		{"new topics disabled", false, "alice@example.com", model.OutcomeMissing, ReasonUnknownReplyKey, 0},
		{"known sender opens topic", true, "alice@example.com", model.OutcomeProcessed, "", 1},
		{"unknown sender", true, "mallory@example.com", model.OutcomeUnprocessable, ReasonUnknownSender, 0},
		{"no sender", true, "", model.OutcomeUnprocessable, ReasonUnknownSender, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &DiscardSink{}
			d := &Dispatcher{Lookup: testLookup(), Sink: sink, AllowNewTopics: tt.allow, CategoryID: 4}
			res, err := d.Dispatch(context.Background(), processed("nope", tt.from))
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if res.Outcome != tt.outcome || res.Reason != tt.reason {
				t.Errorf("got %v/%q, want %v/%q", res.Outcome, res.Reason, tt.outcome, tt.reason)
			}
			if sink.Count() != tt.delivered {
				t.Errorf("delivered %d, want %d", sink.Count(), tt.delivered)
			}
		})
	}
}

func TestDispatchNilLookup(t *testing.T) {
	d := &Dispatcher{}
	res, err := d.Dispatch(context.Background(), processed("abc123", "bob@example.com"))
	if err != nil || res.Outcome != model.OutcomeMissing {
		t.Errorf("got %v, %v", res.Outcome, err)
	}
}

func TestDispatchPassesThroughFailures(t *testing.T) {
	in := model.Result{Outcome: model.OutcomeUnprocessable, Reason: "blank-body"}
	sink := &DiscardSink{}
	d := &Dispatcher{Lookup: testLookup(), Sink: sink}
	res, err := d.Dispatch(context.Background(), in)
	if err != nil || res != in || sink.Count() != 0 {
		t.Errorf("got %+v, %v", res, err)
	}
}

func TestDispatchErrors(t *testing.T) {
	lookupErr := errors.New("database locked")
	d := &Dispatcher{Lookup: fakeLookup{err: lookupErr}}
	res, err := d.Dispatch(context.Background(), processed("abc123", ""))
	if !errors.Is(err, lookupErr) || res.Outcome != model.OutcomeError || res.Reason != ReasonLookupFailed {
		t.Errorf("lookup failure: %v/%q, %v", res.Outcome, res.Reason, err)
	}

	d = &Dispatcher{Lookup: testLookup(), Sink: failingSink{}}
	res, err = d.Dispatch(context.Background(), processed("abc123", ""))
	if err == nil || res.Outcome != model.OutcomeError || res.Reason != ReasonDeliveryFailed {
		t.Errorf("sink failure: %v/%q, %v", res.Outcome, res.Reason, err)
	}
}

func TestJSONLSinkCanceled(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewJSONLSink(&buf).Deliver(ctx, Delivery{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Deliver() = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %q after cancel", buf.String())
	}
}
