package join

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/exofeat/internal/partition"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const exoCSV = "day,tone,count\n" +
	"2024-01-01,1,10\n" +
	"2024-01-02,2,\n" +
	"2024-01-04,4,40\n"

const panelCSV = "day,symbol,close\n" +
	"2024-01-02,BBB,11\n" +
	"2024-01-02,AAA,10\n" +
	"2024-01-03,AAA,12\n" +
	"2024-01-05,AAA,13\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func baseOptions(t *testing.T, panel, exo string) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		MarketPath:        writeFile(t, dir, "panel.csv", panel),
		ExogenousPath:     writeFile(t, dir, "exo.csv", exo),
		OutDir:            filepath.Join(dir, "joined"),
		Lags:              []int{2, 1},
		RollingWindow:     2,
		RollingMean:       true,
		RollingSum:        true,
		RollingMinPeriods: 1,
		OutputFormat:      "csv",
	}
}

func readDay(t *testing.T, dir, day string) partition.Table {
	t.Helper()
	r, err := partition.NewReader(dir)
	require.NoError(t, err)
	tbl, err := r.ReadDay(day)
	require.NoError(t, err)
	return tbl
}

func TestBuildJoinedFeatures(t *testing.T) {
	opts := baseOptions(t, panelCSV, exoCSV)

	res, err := NewEngine().BuildJoinedFeatures(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Partitions)
	assert.Equal(t, 4, res.Rows)
	assert.Equal(t, []string{"tone", "count"}, res.Features)

	wantCols := []string{
		"day", "symbol", "close",
		"tone_lag_1", "tone_lag_2", "tone_roll2_sum", "tone_roll2_mean",
		"count_lag_1", "count_lag_2", "count_roll2_sum", "count_roll2_mean",
	}

	d2 := readDay(t, opts.OutDir, "2024-01-02")
	assert.Equal(t, wantCols, d2.Columns)
	assert.Equal(t, [][]string{
		{"2024-01-02", "AAA", "10", "1", "", "1", "1", "10", "", "10", "10"},
		{"2024-01-02", "BBB", "11", "1", "", "1", "1", "10", "", "10", "10"},
	}, d2.Rows)

	d3 := readDay(t, opts.OutDir, "2024-01-03")
	assert.Equal(t, [][]string{
		{"2024-01-03", "AAA", "12", "2", "1", "3", "1.5", "", "10", "10", "10"},
	}, d3.Rows)

	d5 := readDay(t, opts.OutDir, "2024-01-05")
	assert.Equal(t, [][]string{
		{"2024-01-05", "AAA", "13", "4", "", "4", "4", "40", "", "40", "40"},
	}, d5.Rows)

	m := res.Manifest
	assert.Equal(t, partition.KindJoined, m.Kind)
	assert.Equal(t, "1,2", m.Params["lags"])
	assert.Equal(t, "1", m.Params["rolling_shift"])
	assert.Equal(t, partition.Coverage{MinDay: "2024-01-02", MaxDay: "2024-01-05", NDays: 3}, m.Coverage)
}

func TestBuildJoinedFeatures_NoRawExogenousColumns(t *testing.T) {
	panel := "day,symbol,tone,close\n2024-01-02,AAA,99,10\n"
	opts := baseOptions(t, panel, exoCSV)

	res, err := NewEngine().BuildJoinedFeatures(context.Background(), opts)
	require.NoError(t, err)
	for _, c := range res.Manifest.Schema.Columns {
		assert.NotEqual(t, "tone", c)
		assert.NotEqual(t, "count", c)
	}
	assert.Contains(t, res.Manifest.Schema.Columns, "close")
}

func TestBuildJoinedFeatures_LagNeverSeesSameDay(t *testing.T) {
	// Every exogenous day has a distinct value; every panel day has an observation.
	exo := "day,x\n2024-03-01,1\n2024-03-02,2\n2024-03-03,3\n2024-03-04,4\n"
	panel := "day,symbol\n2024-03-01,A\n2024-03-02,A\n2024-03-03,A\n2024-03-04,A\n"
	opts := baseOptions(t, panel, exo)
	opts.Lags = []int{1}
	opts.RollingWindow = 3

	_, err := NewEngine().BuildJoinedFeatures(context.Background(), opts)
	require.NoError(t, err)

	want := map[string][]string{
		"2024-03-01": {"", "", ""},
		"2024-03-02": {"1", "1", "1"},
		"2024-03-03": {"2", "3", "1.5"},
		"2024-03-04": {"3", "6", "2"},
	}
	for day, feats := range want {
		tbl := readDay(t, opts.OutDir, day)
		assert.Equal(t, []string{"day", "symbol", "x_lag_1", "x_roll3_sum", "x_roll3_mean"}, tbl.Columns)
		assert.Equal(t, feats, tbl.Rows[0][2:], day)
	}
}

func TestBuildJoinedFeatures_MinPeriods(t *testing.T) {
	opts := baseOptions(t, panelCSV, exoCSV)
	opts.RollingMinPeriods = 2

	_, err := NewEngine().BuildJoinedFeatures(context.Background(), opts)
	require.NoError(t, err)

	d2 := readDay(t, opts.OutDir, "2024-01-02")
	assert.Equal(t, []string{"1", "", "", "", "10", "", "", ""}, d2.Rows[0][3:])

	d3 := readDay(t, opts.OutDir, "2024-01-03")
	assert.Equal(t, []string{"2", "1", "3", "1.5", "", "10", "", ""}, d3.Rows[0][3:])
}

func TestBuildJoinedFeatures_RollingShiftFollowsSmallestLag(t *testing.T) {
	exo := "day,x\n2024-03-01,1\n2024-03-02,2\n2024-03-03,3\n"
	panel := "day,symbol\n2024-03-04,A\n"
	opts := baseOptions(t, panel, exo)
	opts.Lags = []int{2}
	opts.RollingMean = false

	res, err := NewEngine().BuildJoinedFeatures(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "2", res.Manifest.Params["rolling_shift"])

	// Window covers 03-02 and 03-01 only.
	tbl := readDay(t, opts.OutDir, "2024-03-04")
	assert.Equal(t, []string{"2024-03-04", "A", "2", "3"}, tbl.Rows[0])
}

func TestBuildJoinedFeatures_AsOf(t *testing.T) {
	opts := baseOptions(t, panelCSV, exoCSV)
	opts.AsOf = "2024-01-03"

	res, err := NewEngine().BuildJoinedFeatures(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Partitions)
	assert.Equal(t, "2024-01-03", res.Manifest.Coverage.MaxDay)
	assert.Equal(t, "2024-01-03", res.Manifest.Params["as_of"])
}

func TestBuildJoinedFeatures_PartitionedExogenous(t *testing.T) {
	dir := t.TempDir()
	exoDir := filepath.Join(dir, "corpus")
	w, err := partition.NewWriter(exoDir, "json")
	require.NoError(t, err)
	require.NoError(t, w.WritePartition("2024-01-01", partition.Table{Columns: []string{"day", "x"}, Rows: [][]string{{"2024-01-01", "5"}}}))
	require.NoError(t, w.WritePartition("2024-01-02", partition.Table{Columns: []string{"day", "x"}, Rows: [][]string{{"2024-01-02", ""}}}))
	m, err := w.Manifest(partition.KindCorpus, "DAILY_FEATURES_PRECOMPUTED")
	require.NoError(t, err)
	require.NoError(t, w.Commit(m))

	opts := baseOptions(t, "day,symbol\n2024-01-02,A\n2024-01-03,A\n", "day,x\n")
	opts.ExogenousPath = exoDir
	opts.Lags = []int{1}
	opts.RollingSum = false
	opts.OutputFormat = "json"

	res, err := NewEngine().BuildJoinedFeatures(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, m.ContentHash, res.Manifest.Params["exogenous_content_hash"])
	assert.Equal(t, "json", res.Manifest.Format)

	tbl := readDay(t, opts.OutDir, "2024-01-03")
	assert.Equal(t, []string{"2024-01-03", "A", "", "5"}, tbl.Rows[0])

	raw, err := os.ReadFile(filepath.Join(opts.OutDir, partition.DayDir("2024-01-03"), partition.PartName(0, "json")))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `["2024-01-03","A",null,5]`)
}

func TestBuildJoinedFeatures_OrderIndependent(t *testing.T) {
	a := baseOptions(t, panelCSV, exoCSV)
	shuffled := "day,symbol,close\n" +
		"2024-01-05,AAA,13\n" +
		"2024-01-02,AAA,10\n" +
		"2024-01-03,AAA,12\n" +
		"2024-01-02,BBB,11\n"
	b := baseOptions(t, shuffled, exoCSV)

	ra, err := NewEngine().BuildJoinedFeatures(context.Background(), a)
	require.NoError(t, err)
	rb, err := NewEngine().BuildJoinedFeatures(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, ra.Manifest.ContentHash, rb.Manifest.ContentHash)
}

func TestBuildJoinedFeatures_Errors(t *testing.T) {
	tests := []struct {
		name    string
		panel   string
		exo     string
		mutate  func(*Options)
		wantErr string
	}{
		{
			name:    "duplicate panel pair",
			panel:   "day,symbol\n2024-01-02,A\n2024-01-02,A\n",
			exo:     exoCSV,
			wantErr: "more than one row for A on 2024-01-02",
		},
		{
			name:    "exogenous repeats a day",
			panel:   panelCSV,
			exo:     "day,x\n2024-01-01,1\n20240101,2\n",
			wantErr: "one row per day",
		},
		{
			name:    "panel without symbol",
			panel:   "day,close\n2024-01-02,1\n",
			exo:     exoCSV,
			wantErr: `needs "day" and "symbol"`,
		},
		{
			name:    "exogenous without day",
			panel:   panelCSV,
			exo:     "date,x\n2024-01-01,1\n",
			wantErr: `no "day" column`,
		},
		{
			name:    "non-numeric feature",
			panel:   panelCSV,
			exo:     "day,x\n2024-01-01,high\n",
			wantErr: "not numeric",
		},
		{
			name:    "nothing to derive",
			panel:   panelCSV,
			exo:     exoCSV,
			mutate:  func(o *Options) { o.Lags = nil; o.RollingMean = false; o.RollingSum = false },
			wantErr: "no derived columns",
		},
		{
			name:    "zero lag",
			panel:   panelCSV,
			exo:     exoCSV,
			mutate:  func(o *Options) { o.Lags = []int{0} },
			wantErr: "lag 0 must be >= 1",
		},
		{
			name:    "min periods above window",
			panel:   panelCSV,
			exo:     exoCSV,
			mutate:  func(o *Options) { o.RollingMinPeriods = 3 },
			wantErr: "rolling_min_periods 3",
		},
		{
			name:    "bad as_of",
			panel:   panelCSV,
			exo:     exoCSV,
			mutate:  func(o *Options) { o.AsOf = "yesterday" },
			wantErr: "as_of",
		},
		{
			name:    "bad format",
			panel:   panelCSV,
			exo:     exoCSV,
			mutate:  func(o *Options) { o.OutputFormat = "parquet" },
			wantErr: "parquet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := baseOptions(t, tt.panel, tt.exo)
			if tt.mutate != nil {
				tt.mutate(&opts)
			}
			_, err := NewEngine().BuildJoinedFeatures(context.Background(), opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			_, statErr := os.Stat(opts.OutDir)
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestBuildJoinedFeatures_Canceled(t *testing.T) {
	opts := baseOptions(t, panelCSV, exoCSV)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine().BuildJoinedFeatures(ctx, opts)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "canceled"))

	_, statErr := os.Stat(opts.OutDir)
	assert.True(t, os.IsNotExist(statErr))
	entries, _ := os.ReadDir(filepath.Dir(opts.OutDir))
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "staging")
	}
}
