package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/indicator-engine/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect indicator run history",
	Long:  "Commands for listing recorded indicator runs and replaying their results.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("runs")
	},
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indicator runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: store.RunStatus(status),
			Kind:   store.RunKind(kind),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and write its results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		formatRunDetail(os.Stderr, run)
		if run.Results == nil {
			return nil
		}
		out, _ := cmd.Flags().GetString("out")
		return writeResults(out, run.Results)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().String("kind", "", "filter by run kind (oa, lsoa)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsShowCmd.Flags().String("out", "", "results CSV path (stdout when empty)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Complete   int
	Failed     int
	Running    int
	OA         int
	LSOA       int
	AreaRows   int
	AvgDurSecs float64
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []store.Run) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		switch r.Kind {
		case store.RunKindOA:
			s.OA++
		case store.RunKindLSOA:
			s.LSOA++
		}
		switch r.Status {
		case store.RunStatusComplete:
			s.Complete++
			s.AreaRows += r.Rows
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			durCount++
		case store.RunStatusFailed:
			s.Failed++
		default:
			s.Running++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunStats writes the statistics as key/value lines.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d (%d oa, %d lsoa)\n", s.Total, s.OA, s.LSOA)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "Scenario rows:\t%d\n", s.AreaRows)
	_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	_ = w.Flush()
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []store.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tMODE\tSTATUS\tROWS\tCHANGED\tCREATED\tDURATION")

	for _, r := range runs {
		dur := "-"
		if r.Status != store.RunStatusRunning {
			dur = r.UpdatedAt.Sub(r.CreatedAt).Truncate(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			shortID(r.ID),
			r.Kind,
			r.Mode,
			r.Status,
			r.Rows,
			r.Changed,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunDetail writes the run's metadata as key/value lines.
func formatRunDetail(out io.Writer, r *store.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	seed := "-"
	if r.Seed != nil {
		seed = strconv.FormatUint(*r.Seed, 10)
	}
	_, _ = fmt.Fprintf(w, "ID:\t%s\n", r.ID)
	_, _ = fmt.Fprintf(w, "Kind:\t%s\n", r.Kind)
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", r.Mode)
	_, _ = fmt.Fprintf(w, "Seed:\t%s\n", seed)
	_, _ = fmt.Fprintf(w, "Source:\t%s\n", r.Source)
	_, _ = fmt.Fprintf(w, "Rows:\t%d (%d changed)\n", r.Rows, r.Changed)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", r.Status)
	if r.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", r.Error)
	}
	_, _ = fmt.Fprintf(w, "Created:\t%s\n", r.CreatedAt.Format(time.RFC3339))
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
