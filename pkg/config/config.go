package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for datawatch-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional - leaderboard degrades to Postgres-only
	// queries when unset)
	Redis RedisConfig `yaml:"redis"`

	// Diff holds the heuristic thresholds and weights of the diff engine and
	// scorer. The defaults are the standard profile; named profiles from
	// ProfilesPath can override them per run.
	Diff DiffConfig `yaml:"diff"`

	// Worker holds batch-run concurrency settings.
	Worker WorkerConfig `yaml:"worker"`

	// ProfilesPath points to a YAML file of named diff profiles.
	ProfilesPath string `yaml:"profiles_path" env:"DIFF_PROFILES_PATH" env-default:""`

	// MigrationsPath is the directory of SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"datawatch"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"datawatch_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis connection configuration for the leaderboard.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// DiffConfig holds the heuristic constants of the diff engine and scorer.
// The rename and drift thresholds are unexplained heuristics inherited from
// operational tuning; they are configuration, not invariants.
type DiffConfig struct {
	// RenameSimilarityThreshold is the minimum normalized string similarity
	// for pairing a removed column with an added one as a rename.
	RenameSimilarityThreshold float64 `yaml:"rename_similarity_threshold" env:"DIFF_RENAME_SIMILARITY" env-default:"0.70"`

	// ContentDriftThreshold flags content drift when similarity falls below it.
	ContentDriftThreshold float64 `yaml:"content_drift_threshold" env:"DIFF_CONTENT_DRIFT" env-default:"0.85"`

	// QuantileShiftThreshold is the relative change of a tracked quantile
	// beyond which a shift is reported.
	QuantileShiftThreshold float64 `yaml:"quantile_shift_threshold" env:"DIFF_QUANTILE_SHIFT" env-default:"0.15"`

	// TrackedQuantile is the per-column quantile compared for shifts.
	TrackedQuantile string `yaml:"tracked_quantile" env:"DIFF_TRACKED_QUANTILE" env-default:"p50"`

	// RowCountSpikeFraction is the relative row-count delta considered a
	// large change for severity and ROWCOUNT_SPIKE/DROP events.
	RowCountSpikeFraction float64 `yaml:"row_count_spike_fraction" env:"DIFF_ROW_COUNT_SPIKE" env-default:"0.50"`

	// Volatility weights. Schema breakage is weighted highest; content drift
	// lowest since it is often benign.
	MetadataWeight float64 `yaml:"metadata_weight" env:"SCORE_METADATA_WEIGHT" env-default:"0.3"`
	SchemaWeight   float64 `yaml:"schema_weight" env:"SCORE_SCHEMA_WEIGHT" env-default:"0.5"`
	ContentWeight  float64 `yaml:"content_weight" env:"SCORE_CONTENT_WEIGHT" env-default:"0.2"`

	// Severity tier thresholds over the point rubric.
	HighSeverityPoints   int `yaml:"high_severity_points" env:"SCORE_HIGH_POINTS" env-default:"5"`
	MediumSeverityPoints int `yaml:"medium_severity_points" env:"SCORE_MEDIUM_POINTS" env-default:"3"`
}

// WorkerConfig holds batch-run concurrency settings.
type WorkerConfig struct {
	// MaxConcurrent bounds per-entity diffing fan-out during a catalog pass.
	MaxConcurrent int `yaml:"max_concurrent" env:"WORKER_MAX_CONCURRENT" env-default:"8"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. If config.yaml does not exist, configuration comes from
// environment variables and defaults alone.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.Diff.Validate(); err != nil {
		return nil, fmt.Errorf("invalid diff configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that thresholds and weights are in sane ranges.
func (d *DiffConfig) Validate() error {
	inUnit := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %g", name, v)
		}
		return nil
	}
	if err := inUnit("rename_similarity_threshold", d.RenameSimilarityThreshold); err != nil {
		return err
	}
	if err := inUnit("content_drift_threshold", d.ContentDriftThreshold); err != nil {
		return err
	}
	if d.QuantileShiftThreshold < 0 {
		return fmt.Errorf("quantile_shift_threshold must be >= 0, got %g", d.QuantileShiftThreshold)
	}
	if d.RowCountSpikeFraction <= 0 {
		return fmt.Errorf("row_count_spike_fraction must be > 0, got %g", d.RowCountSpikeFraction)
	}
	if d.MetadataWeight < 0 || d.SchemaWeight < 0 || d.ContentWeight < 0 {
		return fmt.Errorf("volatility weights must be non-negative")
	}
	if d.HighSeverityPoints <= d.MediumSeverityPoints {
		return fmt.Errorf("high_severity_points (%d) must exceed medium_severity_points (%d)",
			d.HighSeverityPoints, d.MediumSeverityPoints)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
