package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-receiver/dispatch"
	"github.com/dhcgn/mail-receiver/rpcserver"
	"github.com/dhcgn/mail-receiver/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve Receiver.Process over goridge RPC on --listen",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		recv, err := newReceiver(cfg, logger)
		if err != nil {
			return err
		}
		svc := &rpcserver.Service{Receiver: recv, Logger: logger}

		if cfg.Database != "" {
			db, err := store.NewSQLiteStore(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			var sink dispatch.Sink
			if cfg.Output != "-" {
				s, closeSink, err := openSink(cfg)
				if err != nil {
					return err
				}
				defer func() {
					_ = closeSink()
				}()
				sink = s
			}
			svc.Dispatcher = newDispatcher(cfg, db, sink, logger)
		}

		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Listen, err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("rpc server started", "listen", ln.Addr().String(), "service", rpcserver.ServiceName)
		if err := rpcserver.Serve(ctx, ln, svc); err != nil {
			return err
		}
		logger.Info("rpc server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
