// Package mbox streams raw emails out of an mbox archive, for replaying
// archived replies through the receiver.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mail-receiver/inbound"
	"github.com/dhcgn/mail-receiver/model"
	"github.com/dhcgn/mail-receiver/runner"
)

const Source = "mbox"

type Options struct {
	Path string
}

type Reader interface {
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

func NewReader(opts Options, logger *slog.Logger) (Reader, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	return &fileReader{path: path, logger: logger}, nil
}

type fileReader struct {
	path   string
	logger *slog.Logger
}

// Stream sends every message of the archive to out. A broken archive stops
// the stream after one error envelope.
func (f *fileReader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	return Each(ctx, f.path, func(idx int, raw []byte) error {
		return f.emit(ctx, out, model.Envelope{Message: inbound.NewMessage(raw, Source)})
	}, func(err error) error {
		if f.logger != nil {
			f.logger.Error("mbox stream error", "path", f.path, "err", err)
		}
		return f.emit(ctx, out, model.Envelope{Err: err})
	})
}

func (f *fileReader) emit(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

// Each calls fn with every raw message of the archive at path. A read error
// is passed to onErr, whose result ends the iteration; a nil onErr returns
// the error directly.
func Each(ctx context.Context, path string, fn func(idx int, raw []byte) error, onErr func(error) error) error {
	if onErr == nil {
		onErr = func(err error) error { return err }
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return onErr(fmt.Errorf("message %d: %w", idx, err))
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return onErr(fmt.Errorf("message %d read: %w", idx, err))
		}

		if err := fn(idx, raw); err != nil {
			return err
		}
	}
}

// CountMessages counts the messages in an mbox file without parsing them.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return count, fmt.Errorf("message %d: %w", count, err)
		}
		count++
	}
}

// Producer feeds an mbox archive into a runner.
type Producer struct {
	reader Reader
	runner *runner.Runner
}

func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	reader, err := NewReader(opts, logger)
	if err != nil {
		return nil, err
	}
	producer := &Producer{reader: reader, runner: r}
	r.AddStage(Source, producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseMailbox()
	return p.reader.Stream(ctx, p.runner.MailboxWriter())
}
