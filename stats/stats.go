// Package stats aggregates pipeline events into a run summary.
package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dhcgn/mail-receiver/model"
)

type Stage string

const (
	StageSource Stage = "source"
	StageWorker Stage = "worker"
)

type EventType string

const (
	EventTypeScanned       EventType = "scanned"
	EventTypeEnqueued      EventType = "enqueued"
	EventTypeDuplicate     EventType = "duplicate"
	EventTypeFiltered      EventType = "filtered"
	EventTypeProcessed     EventType = "processed"
	EventTypeUnprocessable EventType = "unprocessable"
	EventTypeMissing       EventType = "missing"
	EventTypeError         EventType = "error"
)

// OutcomeEvent maps a processing outcome to its event type.
func OutcomeEvent(o model.Outcome) EventType {
	switch o {
	case model.OutcomeProcessed:
		return EventTypeProcessed
	case model.OutcomeUnprocessable:
		return EventTypeUnprocessable
	case model.OutcomeMissing:
		return EventTypeMissing
	default:
		return EventTypeError
	}
}

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Err       error
	// Detail carries the result reason for outcome events.
	Detail string
}

type Summary struct {
	Scanned       int
	Enqueued      int
	Duplicates    int
	Filtered      int
	Processed     int
	Unprocessable int
	Missing       int
	Errors        int
	LastError     error
	Reasons       map[string]int
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"enqueued", s.Enqueued,
		"duplicates", s.Duplicates,
		"filtered", s.Filtered,
		"processed", s.Processed,
		"unprocessable", s.Unprocessable,
		"missing", s.Missing,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{summary: Summary{Reasons: make(map[string]int)}}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

// Snapshot returns a copy of the current summary.
func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	summary := c.summary
	summary.Reasons = make(map[string]int, len(c.summary.Reasons))
	for k, v := range c.summary.Reasons {
		summary.Reasons[k] = v
	}
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeEnqueued:
		c.summary.Enqueued++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeProcessed:
		c.summary.Processed++
	case EventTypeUnprocessable:
		c.summary.Unprocessable++
	case EventTypeMissing:
		c.summary.Missing++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
	if evt.Detail != "" {
		c.summary.Reasons[evt.Detail]++
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
		for _, c := range TopCounts(summary.Reasons, 0) {
			r.logger.Debug("outcome reason", "reason", c.Key, "count", c.Count)
		}
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// Count is one entry of a frequency table.
type Count struct {
	Key   string
	Count int
}

// TopCounts sorts m by count, highest first, ties by key. A limit of zero
// or less returns every entry.
func TopCounts(m map[string]int, limit int) []Count {
	counts := make([]Count, 0, len(m))
	for k, v := range m {
		counts = append(counts, Count{Key: k, Count: v})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Key < counts[j].Key
	})
	if limit > 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	return counts
}

// PrettyPrintTop writes the top entries of m as a numbered list.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, c := range TopCounts(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, c.Key, c.Count)
	}
}
