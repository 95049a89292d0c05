package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/exofeat/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run audit, normalize and join end to end",
	Long: "Audits and normalizes the configured raw corpus, derives the daily exogenous table, joins it " +
		"onto join.market_path when set, and writes summary.json. Every artifact lands below --out-dir.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		applyCorpusFlags(cmd)
		if cmd.Flags().Changed("market") {
			cfg.Join.MarketPath, _ = cmd.Flags().GetString("market")
		}
		outDir, _ := cmd.Flags().GetString("out-dir")
		asOf, _ := cmd.Flags().GetString("as-of")

		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Corpus.RawDir == "" {
			return eris.New("run: --raw-dir (or corpus.raw_dir) is required")
		}

		ledger := openLedger(ctx)
		defer ledger.Close() //nolint:errcheck

		res, err := pipeline.New(cfg, ledger, pipeline.SummaryHook()).Run(ctx, outDir, asOf)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "corpus: %s, %d days, %s\n",
			res.Corpus.FileType, res.Corpus.Coverage.NDays, res.Corpus.ContentHash)
		if res.Joined != nil {
			fmt.Fprintf(os.Stdout, "joined: %d partitions, %d rows, %s\n",
				res.Joined.Partitions, res.Joined.Rows, res.Joined.Manifest.ContentHash)
		}
		return nil
	},
}

func init() {
	addCorpusFlags(runCmd)
	runCmd.Flags().String("market", "", "market panel to join against (overrides join.market_path)")
	runCmd.Flags().String("out-dir", "out", "directory receiving every artifact of the run")
	runCmd.Flags().String("as-of", "", "ignore days after this YYYY-MM-DD")
	rootCmd.AddCommand(runCmd)
}
