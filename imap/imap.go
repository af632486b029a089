// Package imap polls a mailbox once for unseen messages and feeds them into
// a runner.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mail-receiver/inbound"
	"github.com/dhcgn/mail-receiver/model"
	"github.com/dhcgn/mail-receiver/runner"
	"github.com/dhcgn/mail-receiver/stats"
)

const Source = "imap"

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string
	// Peek leaves fetched messages unseen and selects the mailbox read-only.
	Peek bool
	// Limit caps the number of messages per poll, oldest first. Zero means
	// no limit.
	Limit int
}

type Fetcher struct {
	opts   Options
	runner *runner.Runner
	logger *slog.Logger
}

func NewFetcher(opts Options, r *runner.Runner, logger *slog.Logger) (*Fetcher, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("imap limit must not be negative")
	}
	fetcher := &Fetcher{
		opts:   opts,
		runner: r,
		logger: logger,
	}
	r.AddStage(Source, fetcher.run)
	return fetcher, nil
}

func (f *Fetcher) run(ctx context.Context) error {
	defer f.runner.CloseMailbox()

	client, cleanup, err := f.dial(ctx)
	if err != nil {
		f.runner.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeError, Err: err})
		return err
	}
	defer cleanup()

	return f.poll(ctx, client)
}

func (f *Fetcher) poll(ctx context.Context, client *imapclient.Client) error {
	mailbox := f.mailbox()
	selected, err := client.Select(mailbox, &imapv2.SelectOptions{ReadOnly: f.opts.Peek}).Wait()
	if err != nil {
		return fmt.Errorf("select %s: %w", mailbox, err)
	}

	data, err := client.UIDSearch(&imapv2.SearchCriteria{
		NotFlag: []imapv2.Flag{imapv2.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return fmt.Errorf("search unseen in %s: %w", mailbox, err)
	}

	uids := limitUIDs(data.AllUIDs(), f.opts.Limit)
	if f.logger != nil {
		f.logger.Info("imap poll", "mailbox", mailbox, "messages", selected.NumMessages, "unseen", len(data.AllUIDs()), "fetching", len(uids))
	}
	if len(uids) == 0 {
		return nil
	}

	section := &imapv2.FetchItemBodySection{Peek: f.opts.Peek}
	fetchCmd := client.Fetch(imapv2.UIDSetNum(uids...), &imapv2.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imapv2.FetchItemBodySection{section},
	})
	defer fetchCmd.Close()

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			return f.emit(ctx, model.Envelope{Err: fmt.Errorf("fetch message %d: %w", msg.SeqNum, err)})
		}

		raw := buf.FindBodySection(section)
		if raw == nil {
			return f.emit(ctx, model.Envelope{Err: fmt.Errorf("message uid %d: empty body section", buf.UID)})
		}

		if err := f.emit(ctx, model.Envelope{Message: newMessage(raw, buf.InternalDate)}); err != nil {
			return err
		}
		if f.logger != nil {
			f.logger.Debug("fetched message", "uid", buf.UID, "bytes", len(raw))
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return fmt.Errorf("fetch %s: %w", mailbox, err)
	}
	return nil
}

func (f *Fetcher) emit(ctx context.Context, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case f.runner.MailboxWriter() <- env:
		return nil
	}
}

func (f *Fetcher) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(f.opts.Host, strconv.Itoa(f.opts.Port))
	options := &imapclient.Options{}

	if f.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         f.opts.Host,
			InsecureSkipVerify: f.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if f.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(f.opts.Username, f.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if f.logger != nil {
		f.logger.Debug("imap connection established", "address", address, "user", f.opts.Username, "mailbox", f.mailbox(), "tls", f.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				if f.logger != nil {
					f.logger.Warn("imap logout failed", "err", err)
				}
			}
		}
		if err := client.Close(); err != nil && f.logger != nil {
			f.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (f *Fetcher) mailbox() string {
	if f.opts.Mailbox == "" {
		return "INBOX"
	}
	return f.opts.Mailbox
}

// newMessage prefers the Date header and falls back to the server's
// internal date.
func newMessage(raw []byte, internalDate time.Time) model.Message {
	msg := inbound.NewMessage(raw, Source)
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = internalDate
	}
	return msg
}

// limitUIDs keeps the first limit uids in ascending order.
func limitUIDs(uids []imapv2.UID, limit int) []imapv2.UID {
	sorted := append([]imapv2.UID(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
