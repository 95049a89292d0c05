// Package join attaches lagged and rolling exogenous features to a per-symbol
// daily panel without letting any day see its own or later exogenous values.
package join

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/exofeat/internal/corpus"
	"github.com/sells-group/exofeat/internal/partition"
)

// Result summarizes a completed join.
type Result struct {
	Partitions int
	Rows       int
	Features   []string
	Manifest   *partition.Manifest
}

// Engine builds joined feature partitions.
type Engine struct {
	log *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{log: zap.L().With(zap.String("component", "join"))}
}

// derived is one output column computed from an exogenous feature.
type derived struct {
	name    string
	feature int
	lag     int    // > 0 for lag columns
	agg     string // "sum" or "mean" for rolling columns
}

// LagColumn names the lag-L derivative of feature.
func LagColumn(feature string, lag int) string {
	return fmt.Sprintf("%s_lag_%d", feature, lag)
}

// RollingColumn names the W-day rolling aggregate of feature.
func RollingColumn(feature string, window int, agg string) string {
	return fmt.Sprintf("%s_roll%d_%s", feature, window, agg)
}

func derivedColumns(features []string, o *Options) []derived {
	var out []derived
	for i, f := range features {
		for _, l := range o.lags() {
			out = append(out, derived{name: LagColumn(f, l), feature: i, lag: l})
		}
		if o.RollingSum {
			out = append(out, derived{name: RollingColumn(f, o.RollingWindow, "sum"), feature: i, agg: "sum"})
		}
		if o.RollingMean {
			out = append(out, derived{name: RollingColumn(f, o.RollingWindow, "mean"), feature: i, agg: "mean"})
		}
	}
	return out
}

// BuildJoinedFeatures joins the panel at opts.MarketPath against the exogenous
// daily source at opts.ExogenousPath and writes one partition per panel day.
func (e *Engine) BuildJoinedFeatures(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	ex, err := loadExogenous(opts.ExogenousPath, opts.AsOf)
	if err != nil {
		return nil, err
	}
	p, err := loadPanel(opts.MarketPath, opts.AsOf)
	if err != nil {
		return nil, err
	}

	cols := derivedColumns(ex.features, &opts)
	reserved := make(map[string]bool, len(ex.features)+len(cols))
	for _, f := range ex.features {
		reserved[f] = true
	}
	for _, d := range cols {
		reserved[d.name] = true
	}

	var keep []int
	var header []string
	for i, c := range p.columns {
		if i != p.dayIdx && i != p.symIdx && reserved[c] {
			e.log.Warn("dropping panel column that collides with an exogenous feature", zap.String("column", c))
			continue
		}
		keep = append(keep, i)
		header = append(header, c)
	}
	for _, d := range cols {
		header = append(header, d.name)
	}

	byDay := make(map[string][][]string)
	for _, row := range p.rows {
		day := row[p.dayIdx]
		byDay[day] = append(byDay[day], row)
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	slices.Sort(days)

	w, err := partition.NewWriter(opts.OutDir, opts.OutputFormat)
	if err != nil {
		return nil, err
	}
	res := &Result{Features: ex.features}
	if err := e.write(ctx, w, &opts, ex, p, keep, header, cols, days, byDay, res); err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			e.log.Warn("failed to remove staging", zap.Error(abortErr))
		}
		return nil, err
	}

	e.log.Info("features joined",
		zap.String("out_dir", opts.OutDir),
		zap.Int("partitions", res.Partitions),
		zap.Int("rows", res.Rows),
		zap.Int("features", len(ex.features)),
		zap.String("content_hash", res.Manifest.ContentHash),
	)
	return res, nil
}

func (e *Engine) write(ctx context.Context, w *partition.Writer, opts *Options, ex *exogenous, p *panel,
	keep []int, header []string, cols []derived, days []string, byDay map[string][][]string, res *Result,
) error {
	win := newWindow(ex, opts)
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "join: canceled")
		}
		feats, err := win.at(day, cols)
		if err != nil {
			return err
		}

		rows := byDay[day]
		slices.SortFunc(rows, func(a, b []string) int {
			if c := strings.Compare(a[p.symIdx], b[p.symIdx]); c != 0 {
				return c
			}
			return slices.Compare(a, b)
		})

		t := partition.Table{Columns: header, Rows: make([][]string, 0, len(rows))}
		for _, row := range rows {
			out := make([]string, 0, len(header))
			for _, i := range keep {
				out = append(out, row[i])
			}
			t.Rows = append(t.Rows, append(out, feats...))
		}
		if err := w.WritePartition(day, t); err != nil {
			return err
		}
		res.Partitions++
		res.Rows += len(t.Rows)
	}

	m, err := w.Manifest(partition.KindJoined, "")
	if err != nil {
		return err
	}
	m.Params = params(opts, ex)
	if err := w.Commit(m); err != nil {
		return err
	}
	res.Manifest = m
	return nil
}

func params(o *Options, ex *exogenous) map[string]string {
	lags := make([]string, 0, len(o.Lags))
	for _, l := range o.lags() {
		lags = append(lags, strconv.Itoa(l))
	}
	p := map[string]string{
		"lags":                strings.Join(lags, ","),
		"rolling_window":      strconv.Itoa(o.RollingWindow),
		"rolling_mean":        strconv.FormatBool(o.RollingMean),
		"rolling_sum":         strconv.FormatBool(o.RollingSum),
		"rolling_min_periods": strconv.Itoa(o.RollingMinPeriods),
		"rolling_shift":       strconv.Itoa(o.rollingShift()),
		"features":            strings.Join(ex.features, ","),
	}
	if o.AsOf != "" {
		p["as_of"] = o.AsOf
	}
	if ex.hash != "" {
		p["exogenous_content_hash"] = ex.hash
	}
	return p
}

// window looks up strictly earlier exogenous observations for a panel day.
type window struct {
	ex    *exogenous
	size  int
	shift int
	minN  int
}

func newWindow(ex *exogenous, o *Options) *window {
	return &window{ex: ex, size: o.RollingWindow, shift: o.rollingShift(), minN: o.RollingMinPeriods}
}

func (w *window) at(day string, cols []derived) ([]string, error) {
	d, err := time.Parse(corpus.DayLayout, day)
	if err != nil {
		return nil, eris.Wrapf(err, "join: parse day %s", day)
	}

	out := make([]string, len(cols))
	for i, c := range cols {
		if c.lag > 0 {
			if obs := w.lookup(d, c.lag, c.feature); obs != nil {
				out[i] = obs.raw
			}
			continue
		}

		sum, n := decimal.Zero, 0
		for back := w.shift; back < w.shift+w.size; back++ {
			if obs := w.lookup(d, back, c.feature); obs != nil {
				sum = sum.Add(obs.value)
				n++
			}
		}
		if n < w.minN {
			continue
		}
		if c.agg == "mean" {
			out[i] = sum.Div(decimal.NewFromInt(int64(n))).String()
		} else {
			out[i] = sum.String()
		}
	}
	return out, nil
}

// lookup returns feature's observation back days before d, or nil.
func (w *window) lookup(d time.Time, back, feature int) *observation {
	row, ok := w.ex.byDay[d.AddDate(0, 0, -back).Format(corpus.DayLayout)]
	if !ok {
		return nil
	}
	return row[feature]
}
