package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-receiver/credential"
	"github.com/dhcgn/mail-receiver/imap"
	"github.com/dhcgn/mail-receiver/runner"
)

var imapCmd = &cobra.Command{
	Use:   "imap",
	Short: "Poll an IMAP mailbox once and process its unseen emails",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		cfg.ResolvePassword(credential.Lookup)
		if err := cfg.ValidateIMAP(); err != nil {
			return err
		}
		logger.Info("starting imap poll", "host", cfg.IMAPHost, "mailbox", cfg.IMAPMailbox, "peek", cfg.IMAPPeek, "dryRun", cfg.DryRun)

		return runPipeline(cmd.Context(), cfg, logger, nil, func(r *runner.Runner) error {
			_, err := imap.NewFetcher(imap.Options{
				Host:               cfg.IMAPHost,
				Port:               cfg.IMAPPort,
				Username:           cfg.IMAPUser,
				Password:           cfg.IMAPPass,
				UseTLS:             cfg.UseTLS,
				InsecureSkipVerify: cfg.InsecureSkipVerify,
				Mailbox:            cfg.IMAPMailbox,
				Peek:               cfg.IMAPPeek || cfg.DryRun,
				Limit:              cfg.IMAPLimit,
			}, r, logger)
			return err
		})
	},
}

var imapLoginCmd = &cobra.Command{
	Use:   "imap-login",
	Short: "Store the IMAP password of --imap-user at --imap-host in the OS keyring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()
		if err := cfg.ValidateIMAP(); err != nil {
			return err
		}

		store, err := credential.Open()
		if err != nil {
			return err
		}
		key := credential.Key(cfg.IMAPUser, cfg.IMAPHost)
		if err := store.Set(key, cfg.IMAPPass); err != nil {
			return err
		}
		logger.Info("stored imap password", "key", key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(imapCmd)
	rootCmd.AddCommand(imapLoginCmd)
}
