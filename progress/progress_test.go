package progress

import (
	"context"
	"testing"

	"github.com/dhcgn/mail-receiver/stats"
)

func TestDisabledBar(t *testing.T) {
	for _, tt := range []struct {
		name  string
		total int
		level string
	}{
		{"debug level", 10, "debug"},
		{"empty archive", 0, "info"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			bar := New(tt.total, tt.level)
			if bar.Enabled() {
				t.Fatal("bar should be disabled")
			}

			events := make(chan stats.Event, 2)
			events <- stats.Event{Type: stats.EventTypeProcessed, MessageID: "m1"}
			close(events)
			if err := bar.Subscriber(context.Background(), events); err != nil {
				t.Fatalf("Subscriber() error = %v", err)
			}
			if bar.Handled() != 0 {
				t.Errorf("disabled bar counted %d messages", bar.Handled())
			}
		})
	}
}

type recordingStream struct {
	names []string
}

func (s *recordingStream) SubscribeStats(name string, _ func(context.Context, <-chan stats.Event) error) {
	s.names = append(s.names, name)
}

func TestNewReporterSkipsDisabledBar(t *testing.T) {
	stream := &recordingStream{}
	NewReporter(stream, New(5, "warn"), nil)
	if len(stream.names) != 0 {
		t.Errorf("subscribed %v with a disabled bar", stream.names)
	}
}
