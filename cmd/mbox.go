package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-receiver/mbox"
	"github.com/dhcgn/mail-receiver/progress"
	"github.com/dhcgn/mail-receiver/runner"
)

var mboxCmd = &cobra.Command{
	Use:   "mbox <mbox file>",
	Short: "Run every email of an mbox archive through the receiver",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()
		cfg.MboxPath = args[0]

		total, err := mbox.CountMessages(cfg.MboxPath)
		if err != nil {
			return fmt.Errorf("count messages: %w", err)
		}
		logger.Info("starting mbox replay", "mbox", cfg.MboxPath, "messages", total, "workers", cfg.Workers, "dryRun", cfg.DryRun)

		// Deliveries on stdout and the bar would interleave.
		level := cfg.LogLevel
		if cfg.Output == "-" && !cfg.DryRun {
			level = "off"
		}
		bar := progress.New(total, level)

		return runPipeline(cmd.Context(), cfg, logger, bar, func(r *runner.Runner) error {
			_, err := mbox.NewProducer(mbox.Options{Path: cfg.MboxPath}, r, logger)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(mboxCmd)
}
