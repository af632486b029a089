package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dhcgn/mail-receiver/config"
	"github.com/dhcgn/mail-receiver/dispatch"
	"github.com/dhcgn/mail-receiver/model"
	"github.com/dhcgn/mail-receiver/progress"
	"github.com/dhcgn/mail-receiver/receiver"
	"github.com/dhcgn/mail-receiver/runner"
	"github.com/dhcgn/mail-receiver/state"
	"github.com/dhcgn/mail-receiver/stats"
	"github.com/dhcgn/mail-receiver/store"
	"github.com/dhcgn/mail-receiver/worker"
)

// backend bundles the tracker and lookup chosen by --database/--state-dir.
type backend struct {
	tracker state.Tracker
	lookup  dispatch.Lookup
	store   *store.SQLiteStore
	close   func() error
}

func openBackend(cfg config.Config) (*backend, error) {
	if cfg.Database != "" {
		db, err := store.NewSQLiteStore(cfg.Database)
		if err != nil {
			return nil, err
		}
		var tracker state.Tracker = db
		if cfg.DryRun {
			tracker = state.NewDryRunTracker(db)
		}
		return &backend{tracker: tracker, lookup: db, store: db, close: db.Close}, nil
	}

	tracker, err := state.NewFileTracker(cfg.StateDir, !cfg.DryRun)
	if err != nil {
		return nil, fmt.Errorf("state tracker: %w", err)
	}
	return &backend{tracker: tracker, close: tracker.Close}, nil
}

func (b *backend) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

func newReceiver(cfg config.Config, logger *slog.Logger) (*receiver.Receiver, error) {
	settings, err := cfg.ReceiverSettings()
	if err != nil {
		return nil, err
	}
	return receiver.New(receiver.Options{
		Settings:        settings,
		MaxMessageBytes: cfg.MaxMessageBytes,
		Logger:          logger,
	})
}

// openSink returns where deliveries go: nowhere on dry runs, stdout for
// "-", otherwise a JSON lines file opened for append.
func openSink(cfg config.Config) (dispatch.Sink, func() error, error) {
	noop := func() error { return nil }
	if cfg.DryRun {
		return &dispatch.DiscardSink{}, noop, nil
	}
	if cfg.Output == "" || cfg.Output == "-" {
		return dispatch.NewJSONLSink(os.Stdout), noop, nil
	}
	file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, noop, fmt.Errorf("open output: %w", err)
	}
	return dispatch.NewJSONLSink(file), file.Close, nil
}

func newDispatcher(cfg config.Config, lookup dispatch.Lookup, sink dispatch.Sink, logger *slog.Logger) *dispatch.Dispatcher {
	return &dispatch.Dispatcher{
		Lookup:         lookup,
		Sink:           sink,
		AllowNewTopics: cfg.AllowNewTopics,
		CategoryID:     cfg.CategoryID,
		Logger:         logger,
	}
}

// sourceFunc registers a source stage with the runner.
type sourceFunc func(r *runner.Runner) error

// runPipeline wires a source, the worker pool and the reporters into one
// runner and blocks until the source is drained or the process is
// interrupted.
func runPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger, bar *progress.Bar, addSource sourceFunc) error {
	recv, err := newReceiver(cfg, logger)
	if err != nil {
		return err
	}

	be, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Warn("closing state", "err", err)
		}
	}()

	sink, closeSink, err := openSink(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = closeSink()
	}()

	r, err := runner.New(cfg, be.tracker, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	var summary func() stats.Summary
	if bar.Enabled() {
		summary = progress.NewReporter(r, bar, logger).Summary
	} else {
		summary = stats.NewReporter(r, logger).Summary
	}

	abort := func(err error) error {
		r.Stop()
		r.CloseMailbox()
		_ = r.Start()
		return err
	}

	if err := addSource(r); err != nil {
		return abort(err)
	}

	_, err = worker.NewPool(worker.Options{
		Count:      cfg.Workers,
		Receiver:   recv,
		Dispatcher: newDispatcher(cfg, be.lookup, sink, logger),
		OnResult: func(msg model.Message, res model.Result) {
			if res.Outcome == model.OutcomeError {
				logger.Warn("message failed", "messageID", res.MessageID, "source", msg.Source, "reason", res.Reason, "err", res.Err)
			}
		},
	}, r, logger)
	if err != nil {
		return abort(fmt.Errorf("worker.NewPool: %w", err))
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	stopRunner := context.AfterFunc(sigCtx, r.Stop)
	defer stopRunner()

	err = r.Start()

	if f := r.Filter(); f.Active() {
		fs := f.GetStats()
		logger.Info("filter summary", "checked", fs.Checked, "dropped", fs.Dropped)
		for _, p := range fs.Patterns {
			logger.Debug("filter pattern", "scope", p.Scope, "pattern", p.Pattern, "hits", p.Hits)
		}
	}

	if sigCtx.Err() != nil && ctx.Err() == nil {
		logger.Warn("interrupted", summary().LogAttrs()...)
		return errors.New("interrupted")
	}
	return err
}

// readInput reads the named file, or stdin for "" and "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
