// Package rpcserver exposes the receiver over net/rpc with goridge framing,
// so posting pipelines written in other languages can hand raw emails to it.
package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"sync"

	"github.com/spiral/goridge/v2"

	"github.com/dhcgn/mail-receiver/dispatch"
	"github.com/dhcgn/mail-receiver/model"
	"github.com/dhcgn/mail-receiver/receiver"
)

// ServiceName is the net/rpc name methods are registered under, e.g.
// "Receiver.Process".
const ServiceName = "Receiver"

type ProcessArgs struct {
	Raw []byte `json:"raw"`
}

type ProcessReply struct {
	Outcome   string `json:"outcome"`
	State     string `json:"state"`
	MessageID string `json:"message_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	From      string `json:"from,omitempty"`
	ReplyKey  string `json:"reply_key,omitempty"`
	Body      string `json:"body,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Service is the RPC receiver. Dispatcher is optional; without it results
// are returned as extracted.
type Service struct {
	Receiver   *receiver.Receiver
	Dispatcher *dispatch.Dispatcher
	Logger     *slog.Logger
}

// Process extracts the reply body of args.Raw. Processing failures are
// reported in the reply; the RPC error is reserved for transport problems.
func (s *Service) Process(args ProcessArgs, reply *ProcessReply) error {
	res := s.Receiver.Process(args.Raw)
	if s.Dispatcher != nil {
		var err error
		res, err = s.Dispatcher.Dispatch(context.Background(), res)
		if err != nil && s.Logger != nil {
			s.Logger.Warn("rpc dispatch failed", "messageID", res.MessageID, "err", err)
		}
	}
	*reply = newReply(res)
	return nil
}

func newReply(res model.Result) ProcessReply {
	reply := ProcessReply{
		Outcome:   res.Outcome.String(),
		State:     string(res.State),
		MessageID: res.MessageID,
		Subject:   res.Subject,
		From:      res.From,
		ReplyKey:  res.ReplyKey,
		Body:      res.Body,
		Reason:    res.Reason,
	}
	if res.Err != nil {
		reply.Error = res.Err.Error()
	}
	return reply
}

// NewServer registers svc on a fresh rpc.Server.
func NewServer(svc *Service) (*rpc.Server, error) {
	if svc == nil || svc.Receiver == nil {
		return nil, fmt.Errorf("rpc service needs a receiver")
	}
	server := rpc.NewServer()
	if err := server.RegisterName(ServiceName, svc); err != nil {
		return nil, fmt.Errorf("register %s: %w", ServiceName, err)
	}
	return server, nil
}

// Serve accepts goridge connections on ln until ctx is cancelled. It closes
// ln and waits for open connections to finish.
func Serve(ctx context.Context, ln net.Listener, svc *Service) error {
	server, err := NewServer(svc)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if svc.Logger != nil {
			svc.Logger.Debug("rpc connection", "remote", conn.RemoteAddr().String())
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			stopConn := context.AfterFunc(ctx, func() {
				_ = conn.Close()
			})
			defer stopConn()
			server.ServeCodec(goridge.NewCodec(conn))
		}()
	}
}

// Client calls a remote Service.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to a Serve listener at address.
func Dial(address string) (*Client, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{rpc: rpc.NewClientWithCodec(goridge.NewClientCodec(conn))}
}

func (c *Client) Process(raw []byte) (ProcessReply, error) {
	var reply ProcessReply
	if err := c.rpc.Call(ServiceName+".Process", ProcessArgs{Raw: raw}, &reply); err != nil {
		return ProcessReply{}, err
	}
	return reply, nil
}

func (c *Client) Close() error {
	return c.rpc.Close()
}
