package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-receiver/filter"
	"github.com/dhcgn/mail-receiver/mbox"
	"github.com/dhcgn/mail-receiver/model"
	"github.com/dhcgn/mail-receiver/stats"
)

var (
	reportDir string
	topN      int
)

// reportColumns are the dimensions counted per message, in print order.
var reportColumns = []string{"Outcome", "Reason", "From", "Subject"}

// report counts receiver results of an archive without routing them.
type report struct {
	counter  map[string]map[string]int
	messages int
	skipped  int
}

func newReport() *report {
	r := &report{counter: make(map[string]map[string]int)}
	for _, c := range reportColumns {
		r.counter[c] = make(map[string]int)
	}
	return r
}

func (r *report) add(res model.Result) {
	r.messages++
	r.counter["Outcome"][res.Outcome.String()]++
	if res.Reason != "" {
		r.counter["Reason"][res.Reason]++
	}
	if res.From != "" {
		r.counter["From"][res.From]++
	}
	if res.Subject != "" {
		r.counter["Subject"][res.Subject]++
	}
}

func (r *report) print(w io.Writer, f *filter.Filter, top int) {
	total := r.messages + r.skipped
	var filterPercent float64
	if total > 0 {
		filterPercent = float64(r.skipped) / float64(total) * 100
	}
	fmt.Fprintf(w, "Processed %d messages (skipped %d by filters, %.2f%%)\n\n", r.messages, r.skipped, filterPercent)

	if f.Active() {
		fmt.Fprintln(w, "Filters:")
		for _, p := range f.GetStats().Patterns {
			mark := "✗"
			if p.Hits > 0 {
				mark = "✓"
			}
			fmt.Fprintf(w, "  %s [%s] %s: %d hits\n", mark, p.Scope, p.Pattern, p.Hits)
		}
		fmt.Fprintln(w, "---")
		fmt.Fprintln(w)
	}

	for _, column := range reportColumns {
		fmt.Fprintf(w, "Top %d %s:\n", top, column)
		stats.PrettyPrintTop(w, r.counter[column], top)
		fmt.Fprintln(w)
	}
}

var mboxReportCmd = &cobra.Command{
	Use:   "mbox-report <mbox file>",
	Short: "Analyse how the receiver handles an mbox archive and write CSV reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		f, err := filter.New(cfg.FilterOptions())
		if err != nil {
			return fmt.Errorf("create filter: %w", err)
		}
		recv, err := newReceiver(cfg, logger)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Analyzing mbox file:", args[0])

		rep := newReport()
		err = mbox.Each(cmd.Context(), args[0], func(idx int, raw []byte) error {
			if !f.Allows(raw) {
				rep.skipped++
				return nil
			}
			rep.add(recv.Process(raw))
			if rep.messages%250 == 0 {
				logger.Info("analyzing", "messages", rep.messages, "skipped", rep.skipped)
			}
			return nil
		}, nil)
		if err != nil {
			return fmt.Errorf("error reading mbox file: %w", err)
		}

		rep.print(out, f, topN)

		if err := saveCSVReports(rep.counter, reportColumns, reportDir, 1000); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}
		fmt.Fprintf(out, "Reports saved to directory: %s\n", reportDir)
		return nil
	},
}

func init() {
	mboxReportCmd.Flags().StringVarP(&reportDir, "report-dir", "o", ".", "Output directory for CSV reports")
	mboxReportCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display")
	rootCmd.AddCommand(mboxReportCmd)
}

func saveCSVReports(counter map[string]map[string]int, columns []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, column := range columns {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeColumnName(column)))
		if err := writeCSV(filePath, stats.TopCounts(counter[column], limit)); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(path string, counts []stats.Count) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, c := range counts {
		if err := writer.Write([]string{c.Key, strconv.Itoa(c.Count)}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeColumnName(column string) string {
	name := strings.ToLower(column)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
