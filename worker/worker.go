// Package worker runs the receiver over the runner's queue. Each worker
// extracts the reply body, routes it through the dispatcher and records the
// outcome so the same email is not handled twice.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dhcgn/mail-receiver/dispatch"
	"github.com/dhcgn/mail-receiver/model"
	"github.com/dhcgn/mail-receiver/receiver"
	"github.com/dhcgn/mail-receiver/runner"
	"github.com/dhcgn/mail-receiver/state"
	"github.com/dhcgn/mail-receiver/stats"
)

var ErrNoReceiver = errors.New("receiver must not be nil")

type Options struct {
	// Count is the number of concurrent workers; values below one mean one.
	Count      int
	Receiver   *receiver.Receiver
	Dispatcher *dispatch.Dispatcher
	// OnResult is called after every message, from the worker goroutine.
	OnResult func(model.Message, model.Result)
}

type Pool struct {
	opts    Options
	runner  *runner.Runner
	tracker state.Tracker
	queue   <-chan model.Message
	logger  *slog.Logger
}

func NewPool(opts Options, r *runner.Runner, logger *slog.Logger) (*Pool, error) {
	if opts.Receiver == nil {
		return nil, ErrNoReceiver
	}
	tracker := r.Tracker()
	if tracker == nil {
		return nil, fmt.Errorf("tracker must not be nil")
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = &dispatch.Dispatcher{Logger: logger}
	}
	if opts.Count < 1 {
		opts.Count = 1
	}

	pool := &Pool{
		opts:    opts,
		runner:  r,
		tracker: tracker,
		queue:   r.Queue(),
		logger:  logger,
	}
	for i := 0; i < opts.Count; i++ {
		r.AddStage(fmt.Sprintf("worker-%d", i), pool.run)
	}
	return pool, nil
}

func (p *Pool) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-p.queue:
			if !ok {
				return nil
			}
			if err := p.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// handle processes one message. Only a failing sink or tracker stops the
// worker; everything else is reported as an outcome.
func (p *Pool) handle(ctx context.Context, msg model.Message) error {
	res := p.opts.Receiver.Process(msg.Raw)
	if res.MessageID == "" {
		res.MessageID = msg.ID
	}

	res, err := p.opts.Dispatcher.Dispatch(ctx, res)
	if err != nil && res.Reason == dispatch.ReasonDeliveryFailed {
		p.emit(msg, res)
		return err
	}

	if res.Outcome != model.OutcomeError {
		rec := state.Record{
			Hash:        msg.Hash,
			MessageID:   res.MessageID,
			Outcome:     res.Outcome,
			ReplyKey:    res.ReplyKey,
			ProcessedAt: time.Now().UTC(),
		}
		if err := p.tracker.MarkProcessed(rec); err != nil {
			err = fmt.Errorf("mark %s: %w", msg.ID, err)
			p.runner.EmitEvent(stats.Event{Stage: stats.StageWorker, Type: stats.EventTypeError, MessageID: msg.ID, Err: err})
			return err
		}
	}

	p.emit(msg, res)
	if p.opts.OnResult != nil {
		p.opts.OnResult(msg, res)
	}
	return nil
}

func (p *Pool) emit(msg model.Message, res model.Result) {
	p.runner.EmitEvent(stats.Event{
		Stage:     stats.StageWorker,
		Type:      stats.OutcomeEvent(res.Outcome),
		MessageID: res.MessageID,
		Err:       res.Err,
		Detail:    res.Reason,
	})
	if p.logger != nil {
		p.logger.Debug("message handled",
			"messageID", res.MessageID,
			"source", msg.Source,
			"outcome", res.Outcome,
			"state", res.State,
			"reason", res.Reason,
		)
	}
}
