package imap

import (
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"

	"github.com/dhcgn/mail-receiver/config"
	"github.com/dhcgn/mail-receiver/runner"
)

func TestLimitUIDs(t *testing.T) {
	uids := []imapv2.UID{9, 3, 5, 1}
	tests := []struct {
		limit int
		want  []imapv2.UID
	}{
		{0, []imapv2.UID{1, 3, 5, 9}},
		{2, []imapv2.UID{1, 3}},
		{10, []imapv2.UID{1, 3, 5, 9}},
	}
	for _, tt := range tests {
		got := limitUIDs(uids, tt.limit)
		if len(got) != len(tt.want) {
			t.Fatalf("limitUIDs(%d) = %v, want %v", tt.limit, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("limitUIDs(%d) = %v, want %v", tt.limit, got, tt.want)
				break
			}
		}
	}
	if uids[0] != 9 {
		t.Error("limitUIDs must not reorder its input")
	}
}

func TestNewMessageDate(t *testing.T) {
	internal := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	dated := newMessage([]byte("Message-Id: <a@example.com>\r\nDate: Mon, 02 Jan 2006 15:04:05 +0000\r\n\r\nhi\r\n"), internal)
	if dated.ReceivedAt.Year() != 2006 || dated.Source != Source || dated.ID != "a@example.com" {
		t.Errorf("dated message = %+v", dated)
	}

	undated := newMessage([]byte("Message-Id: <b@example.com>\r\n\r\nhi\r\n"), internal)
	if !undated.ReceivedAt.Equal(internal) {
		t.Errorf("ReceivedAt = %v, want internal date %v", undated.ReceivedAt, internal)
	}
}

func TestNewFetcherValidation(t *testing.T) {
	r, err := runner.New(config.Config{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		r.CloseMailbox()
		_ = r.Start()
	}()

	tests := []struct {
		name string
		opts Options
	}{
		{"no host", Options{Port: 993}},
		{"no port", Options{Host: "imap.example.com"}},
		{"negative limit", Options{Host: "imap.example.com", Port: 993, Limit: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFetcher(tt.opts, r, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}
