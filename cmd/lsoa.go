package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sells-group/indicator-engine/internal/indicator"
	"github.com/sells-group/indicator-engine/internal/predictor"
	"github.com/sells-group/indicator-engine/internal/store"
)

var lsoaCmd = &cobra.Command{
	Use:   "lsoa",
	Short: "Compute LSOA indicators for an LSOA scenario",
	Long:  "Reads an LSOA-indexed scenario CSV, expands it to output areas, computes walk-mode indicators and writes their per-LSOA means.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("lsoa"); err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("scenario")
		indexCol, _ := cmd.Flags().GetString("index-column")
		out, _ := cmd.Flags().GetString("out")

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
			Kind:    store.RunKindLSOA,
			Mode:    string(predictor.Walk),
			Source:  path,
			Rows:    table.Len(),
			Changed: table.Changed(),
		}
		result, err := recordRun(ctx, st, spec, func(ctx context.Context) (*indicator.Table, error) {
			return eng.IndicatorsLSOA(ctx, table)
		})
		if err != nil {
			return err
		}
		return writeResults(out, result)
	},
}

func init() {
	lsoaCmd.Flags().String("scenario", "", "LSOA scenario CSV path (- for stdin)")
	lsoaCmd.Flags().String("index-column", indicator.IndexLSOA, "name of the LSOA identifier column")
	lsoaCmd.Flags().String("out", "", "output CSV path (stdout when empty)")
	rootCmd.AddCommand(lsoaCmd)
}
