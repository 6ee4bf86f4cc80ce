package main

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/indicator-engine/internal/indicator"
	"github.com/sells-group/indicator-engine/internal/scenario"
	"github.com/sells-group/indicator-engine/internal/store"
)

// readScenario reads a scenario CSV from path, or stdin when path is "-".
func readScenario(path, indexColumn string) (*scenario.Table, error) {
	if path == "" {
		return nil, eris.New("--scenario is required")
	}
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "open scenario")
		}
		defer f.Close() //nolint:errcheck
		r = f
	}
	return scenario.ReadCSV(r, indexColumn)
}

// writeResults writes t as CSV to path, or stdout when path is empty or "-".
func writeResults(path string, t *indicator.Table) error {
	if path == "" || path == "-" {
		return t.WriteCSV(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "create output")
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrap(f.Close(), "close output")
}

// recordRun calls compute and, when st is not nil, records the call and its
// outcome as a run. Failing to record never masks the computation error.
func recordRun(ctx context.Context, st store.Store, spec store.RunSpec, compute func(context.Context) (*indicator.Table, error)) (*indicator.Table, error) {
	if st == nil {
		return compute(ctx)
	}
	log := zap.L().With(zap.String("component", "cli"))

	run, err := st.CreateRun(ctx, spec)
	if err != nil {
		return nil, eris.Wrap(err, "record run")
	}
	log = log.With(zap.String("run_id", run.ID))

	result, err := compute(ctx)
	if err != nil {
		if ferr := st.FailRun(ctx, run.ID, err); ferr != nil {
			log.Warn("failed to record run failure", zap.Error(ferr))
		}
		return nil, err
	}
	if err := st.CompleteRun(ctx, run.ID, result); err != nil {
		return nil, eris.Wrap(err, "record run results")
	}
	log.Info("run recorded", zap.Int("rows", result.Len()))
	return result, nil
}
