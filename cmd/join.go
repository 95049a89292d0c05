package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/exofeat/internal/join"
	"github.com/sells-group/exofeat/internal/runlog"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join lagged exogenous features onto a market panel",
	Long: "Attaches lag and rolling-window features of a daily exogenous table to every (day, symbol) " +
		"row of the market panel. A row never sees exogenous values from its own day or later.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		applyJoinFlags(cmd)
		exo, _ := cmd.Flags().GetString("exogenous")
		asOf, _ := cmd.Flags().GetString("as-of")

		if err := cfg.Join.Validate(); err != nil {
			return err
		}
		if cfg.Join.MarketPath == "" || exo == "" || cfg.Join.OutDir == "" {
			return eris.New("join: --market, --exogenous and --out-dir are required")
		}

		opts := joinOptions(exo, asOf)
		ledger := openLedger(ctx)
		defer ledger.Close() //nolint:errcheck

		params := map[string]string{
			"market_path":    opts.MarketPath,
			"exogenous_path": opts.ExogenousPath,
			"out_dir":        opts.OutDir,
			"lags":           joinInts(opts.Lags),
			"rolling_window": strconv.Itoa(opts.RollingWindow),
			"as_of":          opts.AsOf,
		}
		return recordRun(ctx, ledger, "join", params, func() (*runlog.Result, error) {
			res, err := join.NewEngine().BuildJoinedFeatures(ctx, opts)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(os.Stdout, "%d partitions, %d rows, %d features, %s\n",
				res.Partitions, res.Rows, len(res.Features), res.Manifest.ContentHash)
			return dirResult(opts.OutDir, int64(res.Rows), res.Manifest.ContentHash)
		})
	},
}

// applyJoinFlags copies explicitly set join flags over the loaded config.
func applyJoinFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("market") {
		cfg.Join.MarketPath, _ = f.GetString("market")
	}
	if f.Changed("out-dir") {
		cfg.Join.OutDir, _ = f.GetString("out-dir")
	}
	if f.Changed("lags") {
		cfg.Join.Lags, _ = f.GetIntSlice("lags")
	}
	if f.Changed("window") {
		cfg.Join.RollingWindow, _ = f.GetInt("window")
	}
	if f.Changed("mean") {
		cfg.Join.RollingMean, _ = f.GetBool("mean")
	}
	if f.Changed("sum") {
		cfg.Join.RollingSum, _ = f.GetBool("sum")
	}
	if f.Changed("min-periods") {
		cfg.Join.RollingMinPeriods, _ = f.GetInt("min-periods")
	}
	if f.Changed("format") {
		cfg.Join.OutputFormat, _ = f.GetString("format")
	}
}

func joinOptions(exogenous, asOf string) join.Options {
	return join.Options{
		MarketPath:        cfg.Join.MarketPath,
		ExogenousPath:     exogenous,
		OutDir:            cfg.Join.OutDir,
		Lags:              cfg.Join.Lags,
		RollingWindow:     cfg.Join.RollingWindow,
		RollingMean:       cfg.Join.RollingMean,
		RollingSum:        cfg.Join.RollingSum,
		RollingMinPeriods: cfg.Join.RollingMinPeriods,
		OutputFormat:      cfg.Join.OutputFormat,
		AsOf:              asOf,
	}
}

func joinInts(v []int) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = strconv.Itoa(n)
	}
	return strings.Join(s, ",")
}

// addJoinFlags registers the join flags on cmd.
func addJoinFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("market", "", "market panel file or partitioned directory (overrides join.market_path)")
	f.String("exogenous", "", "daily exogenous table file or partitioned directory")
	f.String("out-dir", "", "output directory for joined partitions (overrides join.out_dir)")
	f.IntSlice("lags", nil, "lags in days, e.g. 1,2,5 (overrides join.lags)")
	f.Int("window", 0, "rolling window in days (overrides join.rolling_window)")
	f.Bool("mean", true, "emit rolling mean columns (overrides join.rolling_mean)")
	f.Bool("sum", true, "emit rolling sum columns (overrides join.rolling_sum)")
	f.Int("min-periods", 0, "minimum observations for a rolling value (overrides join.rolling_min_periods)")
	f.String("format", "", "output file format: csv or json (overrides join.output_format)")
	f.String("as-of", "", "ignore panel and exogenous days after this YYYY-MM-DD")
}

func init() {
	addJoinFlags(joinCmd)
	rootCmd.AddCommand(joinCmd)
}
