package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "*", cfg.Corpus.FileGlob)
	assert.Equal(t, "auto", cfg.Corpus.FormatHint)
	assert.Equal(t, "csv", cfg.Corpus.WriteFormat)
	assert.Equal(t, int64(256<<20), cfg.Corpus.StreamingThresholdBytes)
	assert.Equal(t, 100000, cfg.Corpus.StreamingChunkRows)
	assert.Equal(t, []string{"EventRootCode", "ActionGeo_CountryCode"}, cfg.Corpus.GroupingKeys)
	assert.Equal(t, 200, cfg.Corpus.AuditSampleRows)
	assert.Equal(t, []int{1}, cfg.Join.Lags)
	assert.Equal(t, 7, cfg.Join.RollingWindow)
	assert.True(t, cfg.Join.RollingMean)
	assert.True(t, cfg.Join.RollingSum)
	assert.Equal(t, 1, cfg.Join.RollingMinPeriods)
	assert.Equal(t, "csv", cfg.Join.OutputFormat)
	assert.Equal(t, ".exofeat", cfg.Determinism.WorkDir)
	assert.False(t, cfg.Network.Allowed)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
corpus:
  raw_dir: raw/gdelt
  format_hint: events
  sum_columns: [event_count]
join:
  lags: [1, 3]
  rolling_window: 5
  rolling_min_periods: 2
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "raw/gdelt", cfg.Corpus.RawDir)
	assert.Equal(t, "events", cfg.Corpus.FormatHint)
	assert.Equal(t, []string{"event_count"}, cfg.Corpus.SumColumns)
	assert.Equal(t, []int{1, 3}, cfg.Join.Lags)
	assert.Equal(t, 5, cfg.Join.RollingWindow)
	assert.Equal(t, 2, cfg.Join.RollingMinPeriods)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, "csv", cfg.Join.OutputFormat)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("EXOFEAT_STORE_DRIVER", "postgres")
	t.Setenv("EXOFEAT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvNetworkCapability(t *testing.T) {
	chdirTemp(t)
	t.Setenv("EXOFEAT_NETWORK_ALLOWED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Network.Allowed)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func validJoin() JoinConfig {
	return JoinConfig{
		Lags:              []int{1},
		RollingWindow:     3,
		RollingMean:       true,
		RollingSum:        true,
		RollingMinPeriods: 1,
		OutputFormat:      "csv",
	}
}

func TestJoinValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(j *JoinConfig)
		wantErr string
	}{
		{"valid", func(j *JoinConfig) {}, ""},
		{"zero lag", func(j *JoinConfig) { j.Lags = []int{0} }, "join.lags"},
		{"negative lag", func(j *JoinConfig) { j.Lags = []int{1, -2} }, "join.lags"},
		{"zero window", func(j *JoinConfig) { j.RollingWindow = 0 }, "rolling_window"},
		{"min periods above window", func(j *JoinConfig) { j.RollingMinPeriods = 4 }, "rolling_min_periods"},
		{"min periods zero", func(j *JoinConfig) { j.RollingMinPeriods = 0 }, "rolling_min_periods"},
		{"nothing to produce", func(j *JoinConfig) {
			j.Lags = nil
			j.RollingMean = false
			j.RollingSum = false
		}, "no derived columns"},
		{"rolling only", func(j *JoinConfig) { j.Lags = nil }, ""},
		{"bad format", func(j *JoinConfig) { j.OutputFormat = "parquet" }, "join.output_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := validJoin()
			tt.mutate(&j)
			err := j.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCorpusValidate(t *testing.T) {
	c := CorpusConfig{FormatHint: "auto", WriteFormat: "csv", StreamingChunkRows: 10}
	assert.NoError(t, c.Validate())

	c.FormatHint = "gdelt"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format_hint")

	c.FormatHint = "events"
	c.StreamingChunkRows = 0
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "streaming_chunk_rows")
}
