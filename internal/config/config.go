package config

import (
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Detection DetectionConfig `yaml:"detection" mapstructure:"detection"`
	Explain   ExplainConfig   `yaml:"explain" mapstructure:"explain"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for the explanation generator.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ScoreWeights are the signal weights for candidate scoring. They must sum
// to 1 within tolerance; velocity carries the largest weight because the
// engine looks for emerging topics, not merely popular ones.
type ScoreWeights struct {
	Volume    float64 `yaml:"volume" mapstructure:"volume"`
	Velocity  float64 `yaml:"velocity" mapstructure:"velocity"`
	Diversity float64 `yaml:"diversity" mapstructure:"diversity"`
}

// DetectionConfig holds the tunables of the trend lifecycle engine.
type DetectionConfig struct {
	LookbackDays             int          `yaml:"lookback_days" mapstructure:"lookback_days"`
	MaxTrends                int          `yaml:"max_trends" mapstructure:"max_trends"`
	MinConfidence            float64      `yaml:"min_confidence" mapstructure:"min_confidence"`
	HalfLifeHours            float64      `yaml:"half_life_hours" mapstructure:"half_life_hours"`
	MergeSimilarityThreshold float64      `yaml:"merge_similarity_threshold" mapstructure:"merge_similarity_threshold"`
	MinItems                 int          `yaml:"min_items" mapstructure:"min_items"`
	MinClusterSize           int          `yaml:"min_cluster_size" mapstructure:"min_cluster_size"`
	MaxClusters              int          `yaml:"max_clusters" mapstructure:"max_clusters"`
	MaxKeywords              int          `yaml:"max_keywords" mapstructure:"max_keywords"`
	ClusterSeed              int64        `yaml:"cluster_seed" mapstructure:"cluster_seed"`
	VolumeSaturation         float64      `yaml:"volume_saturation" mapstructure:"volume_saturation"`
	VelocitySaturation       float64      `yaml:"velocity_saturation" mapstructure:"velocity_saturation"`
	MaxUsefulSources         int          `yaml:"max_useful_sources" mapstructure:"max_useful_sources"`
	Weights                  ScoreWeights `yaml:"weights" mapstructure:"weights"`
	LockTTLMinutes           int          `yaml:"lock_ttl_minutes" mapstructure:"lock_ttl_minutes"`
}

// HalfLife returns the decay half-life as a duration.
func (c DetectionConfig) HalfLife() time.Duration {
	return time.Duration(c.HalfLifeHours * float64(time.Hour))
}

// Lookback returns the analysis window length as a duration.
func (c DetectionConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// LockTTL returns the per-tenant run lease duration.
func (c DetectionConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// ExplainConfig configures the best-effort explanation phase.
type ExplainConfig struct {
	Enabled       bool    `yaml:"enabled" mapstructure:"enabled"`
	MaxTokens     int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxConcurrent int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RatePerSec    float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// Timeout returns the per-call explanation timeout.
func (c ExplainConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// BatchConfig configures multi-tenant batch runs.
type BatchConfig struct {
	Tenants              []string `yaml:"tenants" mapstructure:"tenants"`
	TenantsFile          string   `yaml:"tenants_file" mapstructure:"tenants_file"`
	MaxConcurrentTenants int      `yaml:"max_concurrent_tenants" mapstructure:"max_concurrent_tenants"`
}

// ServerConfig configures the HTTP trigger server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("TRENDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("batch.max_concurrent_tenants", 4)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("detection.lookback_days", 7)
	v.SetDefault("detection.max_trends", 20)
	v.SetDefault("detection.min_confidence", 0.1)
	v.SetDefault("detection.half_life_hours", 12.0)
	v.SetDefault("detection.merge_similarity_threshold", 0.7)
	v.SetDefault("detection.min_items", 5)
	v.SetDefault("detection.min_cluster_size", 3)
	v.SetDefault("detection.max_clusters", 10)
	v.SetDefault("detection.max_keywords", 8)
	v.SetDefault("detection.cluster_seed", 42)
	v.SetDefault("detection.volume_saturation", 50.0)
	v.SetDefault("detection.velocity_saturation", 3.0)
	v.SetDefault("detection.max_useful_sources", 5)
	v.SetDefault("detection.weights.volume", 0.3)
	v.SetDefault("detection.weights.velocity", 0.4)
	v.SetDefault("detection.weights.diversity", 0.3)
	v.SetDefault("detection.lock_ttl_minutes", 30)
	v.SetDefault("explain.enabled", true)
	v.SetDefault("explain.max_tokens", 300)
	v.SetDefault("explain.timeout_secs", 20)
	v.SetDefault("explain.max_concurrent", 4)
	v.SetDefault("explain.rate_per_sec", 2.0)

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

	if err := cfg.Detection.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the detection tunables are internally consistent.
func (c DetectionConfig) Validate() error {
	var errs []string

	if c.LookbackDays <= 0 {
		errs = append(errs, "lookback_days must be > 0")
	}
	if c.MaxTrends <= 0 {
		errs = append(errs, "max_trends must be > 0")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, "min_confidence must be in [0,1]")
	}
	if c.HalfLifeHours <= 0 {
		errs = append(errs, "half_life_hours must be > 0")
	}
	if c.MergeSimilarityThreshold <= 0 || c.MergeSimilarityThreshold > 1 {
		errs = append(errs, "merge_similarity_threshold must be in (0,1]")
	}
	if c.MinClusterSize <= 0 {
		errs = append(errs, "min_cluster_size must be > 0")
	}
	if c.MaxClusters <= 0 {
		errs = append(errs, "max_clusters must be > 0")
	}

	sum := c.Weights.Volume + c.Weights.Velocity + c.Weights.Diversity
	if c.Weights.Volume < 0 || c.Weights.Velocity < 0 || c.Weights.Diversity < 0 {
		errs = append(errs, "score weights must be >= 0")
	}
	if math.Abs(sum-1.0) > 0.01 {
		errs = append(errs, "score weights must sum to 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: detection validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
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
