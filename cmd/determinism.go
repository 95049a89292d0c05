package main

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sells-group/exofeat/internal/determinism"
	"github.com/sells-group/exofeat/internal/pipeline"
)

var determinismCmd = &cobra.Command{
	Use:   "determinism",
	Short: "Run the pipeline twice and compare every artifact",
	Long: "Runs the full pipeline twice with the same inputs and as-of date, fingerprints both runs and " +
		"writes determinism_report.json. Exits 2 when the runs differ.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		applyCorpusFlags(cmd)
		if cmd.Flags().Changed("work-dir") {
			cfg.Determinism.WorkDir, _ = cmd.Flags().GetString("work-dir")
		}
		asOf, _ := cmd.Flags().GetString("as-of")

		if err := cfg.Validate(); err != nil {
			return err
		}

		ledger := openLedger(ctx)
		defer ledger.Close() //nolint:errcheck

		p := pipeline.New(cfg, ledger, pipeline.SummaryHook())
		code, rep, err := determinism.RunDeterminismCheck(ctx,
			determinism.Args{WorkDir: cfg.Determinism.WorkDir, AsOf: asOf}, p.RunFunc())
		if err != nil {
			return err
		}

		if rep.Matches {
			fmt.Fprintf(os.Stdout, "deterministic: %d artifacts, fingerprint %s\n", rep.ArtifactsA, rep.FingerprintA)
			return nil
		}
		fmt.Fprintf(os.Stdout, "NOT deterministic: %s vs %s\n", rep.FingerprintA, rep.FingerprintB)
		paths := slices.Sorted(maps.Keys(rep.DiffSummary))
		for _, path := range paths {
			fmt.Fprintf(os.Stdout, "  %s: %s\n", path, rep.DiffSummary[path])
		}
		fmt.Fprintf(os.Stdout, "  details: %s\n", rep.DiffSummaryPath)
		return &exitError{code: code, msg: "determinism: runs differ"}
	},
}

func init() {
	addCorpusFlags(determinismCmd)
	determinismCmd.Flags().String("work-dir", "", "directory for both runs and the report (overrides determinism.work_dir)")
	determinismCmd.Flags().String("as-of", "", "as-of date passed to both runs")
	rootCmd.AddCommand(determinismCmd)
}
