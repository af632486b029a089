package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-receiver/config"
	"github.com/dhcgn/mail-receiver/replykey"
)

var replyKeyCmd = &cobra.Command{
	Use:   "reply-key <address>...",
	Short: "Print the reply key embedded in recipient addresses",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.ReplyAddress == "" {
			return fmt.Errorf("--reply-address is required")
		}

		out := cmd.OutOrStdout()
		missing := 0
		for _, address := range args {
			key, ok := replykey.Pick([]string{address}, cfg.ReplyAddress)
			if !ok {
				missing++
				fmt.Fprintf(out, "%s\t-\n", address)
				continue
			}
			fmt.Fprintf(out, "%s\t%s\n", address, key)
		}
		if missing == len(args) {
			return fmt.Errorf("no address matches %s", cfg.ReplyAddress)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replyKeyCmd)
}
