// Package runner wires sources, workers and stats subscribers into one
// cancellable pipeline. Sources write envelopes to MailboxWriter; the
// bridge stage filters and deduplicates them onto the work queue.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/mail-receiver/config"
	"github.com/dhcgn/mail-receiver/filter"
	"github.com/dhcgn/mail-receiver/model"
	"github.com/dhcgn/mail-receiver/state"
	"github.com/dhcgn/mail-receiver/stats"
)

var ErrMessageIDMissing = errors.New("message missing id")

type StageFunc func(context.Context) error

type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	messages chan model.Envelope
	queue    chan model.Message
	events   chan stats.Event

	tracker state.Tracker
	filter  *filter.Filter

	subMu      sync.Mutex
	subs       []chan stats.Event
	subsClosed bool

	workWG      sync.WaitGroup
	statsWG     sync.WaitGroup
	broadcastWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeMailboxOnce sync.Once
	closeQueueOnce   sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

// New builds a runner. A nil tracker deduplicates in memory only.
func New(cfg config.Config, tracker state.Tracker, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if tracker == nil {
		tracker = state.NewMemoryTracker()
	}

	f, err := filter.New(cfg.FilterOptions())
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan model.Envelope, 32),
		queue:    make(chan model.Message, 32),
		events:   make(chan stats.Event, 128),
		tracker:  tracker,
		filter:   f,
	}

	r.broadcastWG.Add(1)
	go r.broadcast()
	r.AddStage("bridge", r.bridge)
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) Filter() *filter.Filter {
	return r.filter
}

func (r *Runner) MailboxWriter() chan<- model.Envelope {
	return r.messages
}

func (r *Runner) CloseMailbox() {
	r.closeMailboxOnce.Do(func() {
		close(r.messages)
	})
}

// Queue delivers deduplicated messages to workers. It is closed once every
// source has finished.
func (r *Runner) Queue() <-chan model.Message {
	return r.queue
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

// SubscribeStats runs fn on its own copy of the event stream. Subscribers
// must be registered before sources start emitting to see every event.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subMu.Lock()
	if r.subsClosed {
		close(ch)
	} else {
		r.subs = append(r.subs, ch)
	}
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) broadcast() {
	defer r.broadcastWG.Done()
	defer func() {
		r.subMu.Lock()
		r.subsClosed = true
		for _, ch := range r.subs {
			close(ch)
		}
		r.subMu.Unlock()
	}()

	for evt := range r.events {
		r.subMu.Lock()
		subs := append([]chan stats.Event(nil), r.subs...)
		r.subMu.Unlock()

		for _, ch := range subs {
			select {
			case ch <- evt:
			case <-r.ctx.Done():
			}
		}
	}
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Stop cancels the pipeline without recording an error.
func (r *Runner) Stop() {
	r.cancel()
}

// Start blocks until every stage and subscriber has returned.
func (r *Runner) Start() error {
	r.since = time.Now()

	r.workWG.Wait()
	r.closeEvents()
	r.broadcastWG.Wait()
	r.statsWG.Wait()

	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeQueue()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.messages:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeError, Err: envelope.Err})
				r.fail(fmt.Errorf("source envelope: %w", envelope.Err))
				continue
			}

			msg := envelope.Message
			r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeScanned, MessageID: msg.ID})

			if msg.ID == "" {
				r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeError, Err: ErrMessageIDMissing})
				r.fail(ErrMessageIDMissing)
				continue
			}

			if !r.filter.Allows(msg.Raw) {
				r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeFiltered, MessageID: msg.ID})
				continue
			}

			if msg.Hash != "" && r.tracker.AlreadyProcessed(msg.Hash) {
				r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeDuplicate, MessageID: msg.ID})
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.queue <- msg:
				r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeEnqueued, MessageID: msg.ID})
			}
		}
	}
}

func (r *Runner) closeQueue() {
	r.closeQueueOnce.Do(func() {
		close(r.queue)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
