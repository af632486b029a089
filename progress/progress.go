// Package progress renders a terminal progress bar for mbox replays.
package progress

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mail-receiver/stats"
)

// Bar counts handled messages against the archive size.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	handled int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar. It only renders at the "info" log level so
// it does not interleave with debug output.
func New(total int, logLevel string) *Bar {
	bar := &Bar{
		total:   total,
		enabled: logLevel == "info" && total > 0,
	}

	if bar.enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Receiving messages").
			Start()
		bar.pb = pb

		pterm.Info.Printf("Messages in archive: %d\n", total)
		pterm.Println()
	}

	return bar
}

// Enabled reports whether the bar renders anything.
func (b *Bar) Enabled() bool {
	return b != nil && b.enabled
}

// Update advances the bar once per message that reached a final state.
func (b *Bar) Update(evt stats.Event) {
	if !b.Enabled() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned, stats.EventTypeEnqueued:
		return
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("%s: %v\n", evt.MessageID, evt.Err)
		}
	}

	b.handled++
	b.pb.Increment()
	if evt.MessageID != "" {
		displayID := evt.MessageID
		if len(displayID) > 40 {
			displayID = displayID[:37] + "..."
		}
		b.pb.UpdateTitle(string(evt.Type) + ": " + displayID)
	}
}

// Handled returns the number of messages counted so far.
func (b *Bar) Handled() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handled
}

func (b *Bar) Stop() {
	if !b.Enabled() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	b.pb.Stop()
	pterm.Success.Println("Processing complete!")
}

// Subscriber feeds runner events into the bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				b.Stop()
				return nil
			}
			b.Update(evt)
		}
	}
}

// Reporter prints a pterm summary table once the run has finished.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewReporter subscribes the bar and a summary printer to stream. Without
// an enabled bar it subscribes nothing and the caller should fall back to
// stats.NewReporter.
func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar.Enabled() {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (r *Reporter) Summary() stats.Summary {
	return r.collector.Snapshot()
}

func (r *Reporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	r.collector.Run(ctx, events)

	summary := r.collector.Snapshot()
	duration := time.Since(r.started).Round(time.Millisecond)

	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	data := pterm.TableData{
		{"Metric", "Count"},
		{"Scanned", itoa(summary.Scanned)},
		{"Filtered", itoa(summary.Filtered)},
		{"Duplicates", itoa(summary.Duplicates)},
		{"Processed", itoa(summary.Processed)},
		{"Unprocessable", itoa(summary.Unprocessable)},
		{"Missing", itoa(summary.Missing)},
		{"Errors", itoa(summary.Errors)},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil && r.logger != nil {
		r.logger.Warn("render summary", "err", err)
	}
	pterm.Info.Printf("Duration: %v\n", duration)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}

	return nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
