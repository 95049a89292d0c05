package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Corpus      CorpusConfig      `yaml:"corpus" mapstructure:"corpus"`
	Join        JoinConfig        `yaml:"join" mapstructure:"join"`
	Determinism DeterminismConfig `yaml:"determinism" mapstructure:"determinism"`
	Network     NetworkConfig     `yaml:"network" mapstructure:"network"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// CorpusConfig configures auditing and normalization of raw exogenous corpora.
type CorpusConfig struct {
	RawDir                  string   `yaml:"raw_dir" mapstructure:"raw_dir"`
	OutDir                  string   `yaml:"out_dir" mapstructure:"out_dir"`
	FileGlob                string   `yaml:"file_glob" mapstructure:"file_glob"`
	FormatHint              string   `yaml:"format_hint" mapstructure:"format_hint"`
	WriteFormat             string   `yaml:"write_format" mapstructure:"write_format"`
	StreamingThresholdBytes int64    `yaml:"streaming_threshold_bytes" mapstructure:"streaming_threshold_bytes"`
	StreamingChunkRows      int      `yaml:"streaming_chunk_rows" mapstructure:"streaming_chunk_rows"`
	GroupingKeys            []string `yaml:"grouping_keys" mapstructure:"grouping_keys"`
	SumColumns              []string `yaml:"sum_columns" mapstructure:"sum_columns"`
	AuditSampleRows         int      `yaml:"audit_sample_rows" mapstructure:"audit_sample_rows"`
}

// JoinConfig configures the lagged feature join against the primary panel.
type JoinConfig struct {
	MarketPath        string `yaml:"market_path" mapstructure:"market_path"`
	OutDir            string `yaml:"out_dir" mapstructure:"out_dir"`
	Lags              []int  `yaml:"lags" mapstructure:"lags"`
	RollingWindow     int    `yaml:"rolling_window" mapstructure:"rolling_window"`
	RollingMean       bool   `yaml:"rolling_mean" mapstructure:"rolling_mean"`
	RollingSum        bool   `yaml:"rolling_sum" mapstructure:"rolling_sum"`
	RollingMinPeriods int    `yaml:"rolling_min_periods" mapstructure:"rolling_min_periods"`
	OutputFormat      string `yaml:"output_format" mapstructure:"output_format"`
}

// DeterminismConfig configures the reproducibility check.
type DeterminismConfig struct {
	WorkDir string `yaml:"work_dir" mapstructure:"work_dir"`
}

// NetworkConfig is the capability that gates every outbound request.
// Nothing in the pipeline touches the network unless Allowed is true.
type NetworkConfig struct {
	Allowed     bool   `yaml:"allowed" mapstructure:"allowed"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EXOFEAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("corpus.file_glob", "*")
	v.SetDefault("corpus.format_hint", "auto")
	v.SetDefault("corpus.write_format", "csv")
	v.SetDefault("corpus.streaming_threshold_bytes", int64(256<<20))
	v.SetDefault("corpus.streaming_chunk_rows", 100000)
	v.SetDefault("corpus.grouping_keys", []string{"EventRootCode", "ActionGeo_CountryCode"})
	v.SetDefault("corpus.sum_columns", []string{})
	v.SetDefault("corpus.audit_sample_rows", 200)
	v.SetDefault("join.lags", []int{1})
	v.SetDefault("join.rolling_window", 7)
	v.SetDefault("join.rolling_mean", true)
	v.SetDefault("join.rolling_sum", true)
	v.SetDefault("join.rolling_min_periods", 1)
	v.SetDefault("join.output_format", "csv")
	v.SetDefault("determinism.work_dir", ".exofeat")
	v.SetDefault("network.allowed", false)
	v.SetDefault("network.user_agent", "exofeat/1.0")
	v.SetDefault("network.timeout_secs", 60)
	v.SetDefault("network.max_retries", 3)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "exofeat.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the corpus and join settings for values the pipeline cannot honor.
func (c *Config) Validate() error {
	if err := c.Corpus.Validate(); err != nil {
		return err
	}
	return c.Join.Validate()
}

// Validate checks corpus options.
func (c CorpusConfig) Validate() error {
	switch c.FormatHint {
	case "auto", "events", "daily_features":
	default:
		return eris.Errorf("config: corpus.format_hint %q (valid: auto, events, daily_features)", c.FormatHint)
	}
	if err := validateFormat("corpus.write_format", c.WriteFormat); err != nil {
		return err
	}
	if c.StreamingThresholdBytes < 0 {
		return eris.Errorf("config: corpus.streaming_threshold_bytes must be >= 0, got %d", c.StreamingThresholdBytes)
	}
	if c.StreamingChunkRows <= 0 {
		return eris.Errorf("config: corpus.streaming_chunk_rows must be positive, got %d", c.StreamingChunkRows)
	}
	return nil
}

// Validate checks join options.
func (j JoinConfig) Validate() error {
	for _, l := range j.Lags {
		if l < 1 {
			return eris.Errorf("config: join.lags must be positive integers, got %d", l)
		}
	}
	if j.RollingWindow < 1 {
		return eris.Errorf("config: join.rolling_window must be positive, got %d", j.RollingWindow)
	}
	if j.RollingMinPeriods < 1 || j.RollingMinPeriods > j.RollingWindow {
		return eris.Errorf("config: join.rolling_min_periods must be in [1, %d], got %d", j.RollingWindow, j.RollingMinPeriods)
	}
	if len(j.Lags) == 0 && !j.RollingMean && !j.RollingSum {
		return eris.New("config: join produces no derived columns (set join.lags or enable rolling_mean/rolling_sum)")
	}
	return validateFormat("join.output_format", j.OutputFormat)
}

func validateFormat(key, format string) error {
	switch format {
	case "csv", "json":
		return nil
	default:
		return eris.Errorf("config: %s %q (valid: csv, json)", key, format)
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
