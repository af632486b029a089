// Package receiver runs the body extraction pipeline for one raw email:
// MIME part selection, site-specific quote trimming and generic reply
// scrubbing, followed by reply key extraction.
package receiver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dhcgn/mail-receiver/body"
	"github.com/dhcgn/mail-receiver/inbound"
	"github.com/dhcgn/mail-receiver/model"
	"github.com/dhcgn/mail-receiver/quote"
	"github.com/dhcgn/mail-receiver/replykey"
	"github.com/dhcgn/mail-receiver/visible"
)

var (
	// ErrUnprocessable marks well-formed input without usable content.
	ErrUnprocessable = errors.New("unprocessable email")
	ErrNoRecipient   = errors.New("email has no recipient")
	ErrPanic         = errors.New("pipeline panic")
)

// Reasons reported in model.Result.Reason.
const (
	ReasonBlankInput   = "blank-input"
	ReasonTooLarge     = "too-large"
	ReasonParseFailed  = "parse-failed"
	ReasonNoText       = "no-text"
	ReasonBlankBody    = "blank-body"
	ReasonNoRecipient  = "no-recipient"
	ReasonPanic        = "panic"
	ReasonStageFailure = "stage-failed"
)

// Settings are the per-site values the pipeline needs.
type Settings struct {
	// ReplyAddress is the reply address template, e.g.
	// "reply+%{reply_key}@example.com". Empty disables key extraction.
	ReplyAddress       string
	SiteTitle          string
	PreviousDiscussion string
}

// Options configure a Receiver.
type Options struct {
	Settings Settings
	// MaxMessageBytes caps the raw input size. Zero means no limit.
	MaxMessageBytes int64
	// ExtraRules are evaluated after the built-in quote boundary rules.
	ExtraRules []quote.Rule
	Logger     *slog.Logger
}

// StageFunc transforms the body text of one pipeline stage.
type StageFunc func(text string) (string, error)

// Stage is one named step of the pipeline.
type Stage struct {
	State model.State
	Run   StageFunc
}

// Receiver is immutable after New and safe for concurrent use.
type Receiver struct {
	settings Settings
	maxBytes int64
	trimmer  *quote.Trimmer
	logger   *slog.Logger
}

// New validates opts and compiles the quote rules.
func New(opts Options) (*Receiver, error) {
	if opts.Settings.ReplyAddress != "" {
		if err := replykey.Validate(opts.Settings.ReplyAddress); err != nil {
			return nil, err
		}
	}
	if opts.MaxMessageBytes < 0 {
		return nil, fmt.Errorf("max message bytes must not be negative")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	trimmer := quote.NewTrimmer(quote.Settings{
		SiteTitle:          opts.Settings.SiteTitle,
		PreviousDiscussion: opts.Settings.PreviousDiscussion,
	})
	if len(opts.ExtraRules) > 0 {
		trimmer = trimmer.WithRules(opts.ExtraRules...)
	}

	return &Receiver{
		settings: opts.Settings,
		maxBytes: opts.MaxMessageBytes,
		trimmer:  trimmer,
		logger:   logger,
	}, nil
}

// Settings returns the settings the receiver was built with.
func (r *Receiver) Settings() Settings {
	return r.settings
}

// Process runs the pipeline on raw and never panics.
func (r *Receiver) Process(raw []byte) (res model.Result) {
	res.State = model.StateStart

	defer func() {
		if p := recover(); p != nil {
			res = r.failed(res, model.OutcomeError, ReasonPanic, fmt.Errorf("%w: %v", ErrPanic, p))
		}
	}()

	if len(bytes.TrimSpace(raw)) == 0 {
		return r.failed(res, model.OutcomeUnprocessable, ReasonBlankInput, ErrUnprocessable)
	}
	if r.maxBytes > 0 && int64(len(raw)) > r.maxBytes {
		err := fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrUnprocessable, len(raw), r.maxBytes)
		return r.failed(res, model.OutcomeUnprocessable, ReasonTooLarge, err)
	}

	msg, err := inbound.Parse(raw)
	if err != nil {
		return r.failed(res, model.OutcomeError, ReasonParseFailed, err)
	}
	res.MessageID = msg.MessageID
	res.Subject = msg.Subject
	res.From = msg.FirstFrom()

	text := ""
	for _, stage := range r.Stages(msg) {
		next, err := stage.Run(text)
		if err != nil {
			if errors.Is(err, ErrUnprocessable) {
				return r.failed(res, model.OutcomeUnprocessable, ReasonNoText, err)
			}
			return r.failed(res, model.OutcomeError, ReasonStageFailure, fmt.Errorf("%s: %w", stage.State, err))
		}
		if strings.TrimSpace(next) == "" {
			err := fmt.Errorf("%w: blank after %s", ErrUnprocessable, stage.State)
			return r.failed(res, model.OutcomeUnprocessable, ReasonBlankBody, err)
		}
		text = next
		res.State = stage.State
		r.logger.Debug("stage done", "messageID", res.MessageID, "state", stage.State, "length", len(text))
	}

	to := msg.FirstTo()
	if to == "" {
		return r.failed(res, model.OutcomeError, ReasonNoRecipient, ErrNoRecipient)
	}
	if r.settings.ReplyAddress != "" {
		res.ReplyKey = replykey.Extract(to, r.settings.ReplyAddress)
	}

	res.Body = text
	res.Outcome = model.OutcomeProcessed
	res.State = model.StateProcessed
	r.logger.Debug("email processed", "messageID", res.MessageID, "replyKey", res.ReplyKey)
	return res
}

// Stages returns the pipeline for msg in execution order. The first stage
// ignores its input and selects the body from msg.
func (r *Receiver) Stages(msg *model.InboundMessage) []Stage {
	return []Stage{
		{State: model.StateMimeSelected, Run: selectStage(msg)},
		{State: model.StateQuoteTrimmed, Run: r.trimStage},
		{State: model.StateReplyScrubbed, Run: scrubStage},
	}
}

func selectStage(msg *model.InboundMessage) StageFunc {
	return func(string) (string, error) {
		text, found := body.Select(msg)
		if !found {
			return "", fmt.Errorf("%w: no usable text part", ErrUnprocessable)
		}
		return text, nil
	}
}

func (r *Receiver) trimStage(text string) (string, error) {
	trimmed, rule := r.trimmer.TrimWithRule(text)
	if rule != "" {
		r.logger.Debug("quote boundary found", "rule", rule)
	}
	return trimmed, nil
}

func scrubStage(text string) (string, error) {
	return strings.ToValidUTF8(visible.Text(text), ""), nil
}

func (r *Receiver) failed(res model.Result, outcome model.Outcome, reason string, err error) model.Result {
	res.Outcome = outcome
	res.Reason = reason
	res.Err = err
	res.Body = ""
	res.ReplyKey = ""

	level := slog.LevelInfo
	if outcome == model.OutcomeError {
		level = slog.LevelWarn
	}
	r.logger.Log(context.Background(), level, "email not processed",
		"messageID", res.MessageID,
		"outcome", outcome,
		"state", res.State,
		"reason", reason,
		"err", err,
	)
	return res
}
