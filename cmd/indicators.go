package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sells-group/indicator-engine/internal/indicator"
	"github.com/sells-group/indicator-engine/internal/scenario"
	"github.com/sells-group/indicator-engine/internal/store"
)

var indicatorsCmd = &cobra.Command{
	Use:   "indicators",
	Short: "Compute output-area indicators for a scenario",
	Long:  "Reads an OA-indexed scenario CSV, samples features, runs the predictors and writes one indicator row per output area.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("indicators"); err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("scenario")
		indexCol, _ := cmd.Flags().GetString("index-column")
		out, _ := cmd.Flags().GetString("out")
		mode, _ := cmd.Flags().GetString("mode")
		if mode == "" {
			mode = cfg.Engine.DefaultMode
		}
		var seed *uint64
		if cmd.Flags().Changed("seed") {
			s, _ := cmd.Flags().GetUint64("seed")
			seed = &s
		}

		table, err := readScenario(path, indexCol)
		if err != nil {
			return err
		}
		eng, err := initEngine(ctx)
		if err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		spec := store.RunSpec{
			Kind:    store.RunKindOA,
			Mode:    mode,
			Seed:    seed,
			Source:  path,
			Rows:    table.Len(),
			Changed: table.Changed(),
		}
		result, err := recordRun(ctx, st, spec, func(ctx context.Context) (*indicator.Table, error) {
			return eng.Indicators(ctx, table, mode, seed)
		})
		if err != nil {
			return err
		}
		return writeResults(out, result)
	},
}

func init() {
	indicatorsCmd.Flags().String("scenario", "", "scenario CSV path (- for stdin)")
	indicatorsCmd.Flags().String("index-column", scenario.DefaultIndexColumn, "name of the output-area identifier column")
	indicatorsCmd.Flags().String("mode", "", "travel mode for accessibility (walk, bike, car, transit); defaults to engine.default_mode")
	indicatorsCmd.Flags().Uint64("seed", 0, "sampler seed; a fresh seed is used when unset")
	indicatorsCmd.Flags().String("out", "", "output CSV path (stdout when empty)")
	rootCmd.AddCommand(indicatorsCmd)
}
