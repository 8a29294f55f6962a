package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/credcheck/internal/model"
	"github.com/sells-group/credcheck/internal/store"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Inspect evaluation report history",
	Long:  "Commands for listing, viewing, and summarizing stored evaluation reports.",
}

// -- reports list --

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List evaluation reports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("reports"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		credType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		reports, err := st.ListReports(ctx, store.ReportFilter{
			Status:         model.ReportStatus(status),
			CredentialType: model.Category(credType),
			Limit:          limit,
			Offset:         offset,
		})
		if err != nil {
			return eris.Wrap(err, "reports list")
		}

		if len(reports) == 0 {
			fmt.Fprintln(os.Stderr, "No reports found.")
			return nil
		}

		formatReportsList(cmd.OutOrStdout(), reports)
		return nil
	},
}

// -- reports show --

var reportsShowCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Show full details of a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("reports"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		report, err := st.GetReport(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "reports show")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

// -- reports stats --

var reportsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate report statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("reports"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reports, err := st.ListReports(ctx, store.ReportFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "reports stats")
		}

		formatReportStats(cmd.OutOrStdout(), computeReportStats(reports))
		return nil
	},
}

func init() {
	reportsListCmd.Flags().String("status", "", "filter by status (pending, processing, completed, failed)")
	reportsListCmd.Flags().String("type", "", "filter by credential type (medical_license, board_certificate, ...)")
	reportsListCmd.Flags().Int("limit", 50, "max number of reports to display")
	reportsListCmd.Flags().Int("offset", 0, "number of reports to skip")

	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsShowCmd)
	reportsCmd.AddCommand(reportsStatsCmd)
	rootCmd.AddCommand(reportsCmd)
}

// reportStats holds aggregate statistics computed from a set of reports.
type reportStats struct {
	Total     int
	Completed int
	Failed    int
	InFlight  int
	ByType    map[model.Category]int
	ByFlag    map[model.Flag]int
	AvgScore  float64
	AvgDur    time.Duration
}

// computeReportStats aggregates reports. Scores average over completed
// reports of a valid credential type only.
func computeReportStats(reports []model.Report) reportStats {
	s := reportStats{
		Total:  len(reports),
		ByType: make(map[model.Category]int),
		ByFlag: make(map[model.Flag]int),
	}

	var scoreSum, scored int
	var durSum time.Duration
	for _, r := range reports {
		switch r.Status {
		case model.ReportStatusCompleted:
			s.Completed++
			durSum += r.UpdatedAt.Sub(r.CreatedAt)
		case model.ReportStatusFailed:
			s.Failed++
		default:
			s.InFlight++
		}
		if r.CredentialType != "" {
			s.ByType[r.CredentialType]++
		}
		if r.Result != nil {
			s.ByFlag[r.Result.CredibilityResult.Flag]++
			if r.Result.ClassifierResult.Valid() {
				scoreSum += r.Result.CredibilityResult.Score
				scored++
			}
		}
	}

	if scored > 0 {
		s.AvgScore = float64(scoreSum) / float64(scored)
	}
	if s.Completed > 0 {
		s.AvgDur = durSum / time.Duration(s.Completed)
	}
	return s
}

// formatReportsList writes a tabular list of reports to w.
func formatReportsList(out io.Writer, reports []model.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCREDENTIAL\tTYPE\tSTATUS\tSCORE\tFLAG\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----------\t----\t------\t-----\t----\t-------")

	for _, r := range reports {
		name := r.CredentialName
		if name == "" {
			name = r.Files.CredentialPath
		}
		if len(name) > 30 {
			name = name[:27] + "..."
		}

		score, flag := "", ""
		if r.Result != nil {
			score = fmt.Sprintf("%d", r.Result.CredibilityResult.Score)
			flag = string(r.Result.CredibilityResult.Flag)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			name,
			r.CredentialType,
			r.Status,
			score,
			flag,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatReportStats writes aggregate stats to w.
func formatReportStats(out io.Writer, s reportStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total reports:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "In flight:\t%d\n", s.InFlight)

	types := make([]string, 0, len(s.ByType))
	for c := range s.ByType {
		types = append(types, string(c))
	}
	sort.Strings(types)
	for _, c := range types {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", c, s.ByType[model.Category(c)])
	}

	for _, f := range []model.Flag{model.FlagGreen, model.FlagYellow, model.FlagRed} {
		_, _ = fmt.Fprintf(w, "Flag %s:\t%d\n", f, s.ByFlag[f])
	}
	if s.AvgScore > 0 {
		_, _ = fmt.Fprintf(w, "Avg score:\t%.1f\n", s.AvgScore)
	}
	if s.AvgDur > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%s\n", s.AvgDur.Round(time.Second))
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
