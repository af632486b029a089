package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-receiver/dispatch"
	"github.com/dhcgn/mail-receiver/model"
	"github.com/dhcgn/mail-receiver/store"
)

// processOutput is the JSON printed by the process command.
type processOutput struct {
	model.Result
	Error string `json:"error,omitempty"`
}

var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Extract the reply of one email read from a file or stdin",
	Long: `Extract the reply of one email read from a file or stdin and print the
result as JSON. With --database the result is also routed by its reply
key; deliveries go to --output unless it is stdout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		raw, err := readInput(path, cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read email: %w", err)
		}

		recv, err := newReceiver(cfg, logger)
		if err != nil {
			return err
		}
		res := recv.Process(raw)

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
			res, _ = newDispatcher(cfg, db, sink, logger).Dispatch(cmd.Context(), res)
		}

		out := processOutput{Result: res}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}

		if res.Outcome == model.OutcomeError {
			return fmt.Errorf("%s: %s", res.Outcome, res.Reason)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}
