package config

import (
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
	Import    ImportConfig    `yaml:"import" mapstructure:"import"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int    `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for the classification and
// conflict-resolution calls.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ImportConfig configures pipeline behavior.
type ImportConfig struct {
	Country         string        `yaml:"country" mapstructure:"country"`
	PlanTTLHours    int           `yaml:"plan_ttl_hours" mapstructure:"plan_ttl_hours"`
	AllowPartial    bool          `yaml:"allow_partial" mapstructure:"allow_partial"`
	Concurrency     int           `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSec      float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	OracleTimeout   time.Duration `yaml:"oracle_timeout" mapstructure:"oracle_timeout"`
	ExportDir       string        `yaml:"export_dir" mapstructure:"export_dir"`
	PlanCacheSweeps bool          `yaml:"plan_cache_sweeps" mapstructure:"plan_cache_sweeps"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("HRIMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "hr-import.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("import.country", "CI")
	v.SetDefault("import.plan_ttl_hours", 168)
	v.SetDefault("import.concurrency", 4)
	v.SetDefault("import.rate_per_sec", 2)
	v.SetDefault("import.oracle_timeout", 30*time.Second)
	v.SetDefault("import.plan_cache_sweeps", true)
	v.SetDefault("server.port", 8080)
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

// Validate checks that the fields required for the given mode are present.
// Modes: "import" (one-shot pipeline run), "serve" (HTTP API).
func (c *Config) Validate(mode string) error {
	var missing []string

	check := func(name, value string) {
		if value == "" {
			missing = append(missing, name+" is required")
		}
	}

	switch mode {
	case "import", "serve":
		check("anthropic.key", c.Anthropic.Key)
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			missing = append(missing, "store.driver must be sqlite or postgres")
		}
		check("store.database_url", c.Store.DatabaseURL)
		if c.Import.Concurrency < 1 || c.Import.Concurrency > 16 {
			missing = append(missing, "import.concurrency must be between 1 and 16")
		}
		if c.Import.RatePerSec <= 0 {
			missing = append(missing, "import.rate_per_sec must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "serve" && c.Server.Port <= 0 {
		missing = append(missing, "server.port must be > 0")
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// PlanTTL converts the configured hours into a duration.
func (c ImportConfig) PlanTTL() time.Duration {
	return time.Duration(c.PlanTTLHours) * time.Hour
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
