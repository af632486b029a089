package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-receiver/config"
	"github.com/dhcgn/mail-receiver/dispatch"
	"github.com/dhcgn/mail-receiver/model"
	"github.com/dhcgn/mail-receiver/store"
)

var (
	logTopicID    int64
	logPostNumber int
	logUserEmail  string
)

func openStore(cmd *cobra.Command) (*store.SQLiteStore, error) {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("--database is required")
	}
	return store.NewSQLiteStore(cfg.Database)
}

var addEmailLogCmd = &cobra.Command{
	Use:   "add-email-log <reply key>",
	Short: "Register the reply key of an outgoing notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		return db.AddEmailLog(cmd.Context(), dispatch.EmailLog{
			ReplyKey:   args[0],
			TopicID:    logTopicID,
			PostNumber: logPostNumber,
			UserEmail:  logUserEmail,
		})
	},
}

var addUserCmd = &cobra.Command{
	Use:   "add-user <email> [username]",
	Short: "Allow a sender to open new topics by email",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		username := ""
		if len(args) == 2 {
			username = args[1]
		}
		id, err := db.AddUser(cmd.Context(), args[0], username)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %d: %s\n", id, args[0])
		return nil
	},
}

var outcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Show how many recorded emails ended in each outcome",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		counts, err := db.OutcomeCounts(cmd.Context())
		if err != nil {
			return err
		}
		outcomes := make([]model.Outcome, 0, len(counts))
		for outcome := range counts {
			outcomes = append(outcomes, outcome)
		}
		sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })

		data := pterm.TableData{{"Outcome", "Count"}}
		total := 0
		for _, outcome := range outcomes {
			data = append(data, []string{outcome.String(), strconv.Itoa(counts[outcome])})
			total += counts[outcome]
		}
		data = append(data, []string{"total", strconv.Itoa(total)})
		return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render()
	},
}

func init() {
	addEmailLogCmd.Flags().Int64Var(&logTopicID, "topic", 0, "Topic the notification belongs to")
	addEmailLogCmd.Flags().IntVar(&logPostNumber, "post", 1, "Post number replies answer")
	addEmailLogCmd.Flags().StringVar(&logUserEmail, "user", "", "Recipient of the notification")

	rootCmd.AddCommand(addEmailLogCmd)
	rootCmd.AddCommand(addUserCmd)
	rootCmd.AddCommand(outcomesCmd)
}
