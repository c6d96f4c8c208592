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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Prospect   ProspectConfig   `yaml:"prospect" mapstructure:"prospect"`
	Outreach   OutreachConfig   `yaml:"outreach" mapstructure:"outreach"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ProspectConfig holds the discovery/enrichment collaborator settings.
type ProspectConfig struct {
	Key      string   `yaml:"key" mapstructure:"key"`
	BaseURL  string   `yaml:"base_url" mapstructure:"base_url"`
	Queries  []string `yaml:"queries" mapstructure:"queries"`
	PageSize int      `yaml:"page_size" mapstructure:"page_size"`
}

// OutreachConfig holds the message composer/transport webhook settings.
type OutreachConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	FromName   string `yaml:"from_name" mapstructure:"from_name"`
	Template   string `yaml:"template" mapstructure:"template"`
}

// SalesforceConfig holds Salesforce JWT auth settings for the CRM sync.
type SalesforceConfig struct {
	ClientID   string `yaml:"client_id" mapstructure:"client_id"`
	Username   string `yaml:"username" mapstructure:"username"`
	KeyPath    string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL   string `yaml:"login_url" mapstructure:"login_url"`
	LeadObject string `yaml:"lead_object" mapstructure:"lead_object"`
}

// DedupConfig configures identity matching.
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// FetchConfig configures the outbound rate-limiting discipline.
type FetchConfig struct {
	UserAgent   string                  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int                     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Default     TargetConfig            `yaml:"default" mapstructure:"default"`
	Targets     map[string]TargetConfig `yaml:"targets" mapstructure:"targets"`
}

// TargetConfig is the per-hostname timing policy.
type TargetConfig struct {
	MinIntervalMs     int     `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	JitterRangeMs     int     `yaml:"jitter_range_ms" mapstructure:"jitter_range_ms"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
}

// WorkerConfig configures the stage batch runs.
type WorkerConfig struct {
	BatchSize    int `yaml:"batch_size" mapstructure:"batch_size"`
	Parallelism  int `yaml:"parallelism" mapstructure:"parallelism"`
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// SyncConfig configures the CRM sync coordinator.
type SyncConfig struct {
	BatchSize    int `yaml:"batch_size" mapstructure:"batch_size"`
	MaxRetries   int `yaml:"max_retries" mapstructure:"max_retries"`
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// MonitoringConfig configures background health checks and alerting.
type MonitoringConfig struct {
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	QuarantineThreshold int    `yaml:"quarantine_threshold" mapstructure:"quarantine_threshold"`
	PendingThreshold    int    `yaml:"pending_threshold" mapstructure:"pending_threshold"`
}

// ServerConfig configures the status HTTP server.
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
	v.SetEnvPrefix("LEADPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadpipe.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("prospect.base_url", "https://api.prospect.example.com")
	v.SetDefault("prospect.page_size", 25)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.lead_object", "Lead")
	v.SetDefault("dedup.similarity_threshold", 0.82)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.user_agent", "leadpipe/1.0")
	v.SetDefault("fetch.default.min_interval_ms", 1000)
	v.SetDefault("fetch.default.jitter_range_ms", 250)
	v.SetDefault("fetch.default.max_retries", 3)
	v.SetDefault("fetch.default.backoff_multiplier", 2.0)
	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.parallelism", 4)
	v.SetDefault("worker.interval_secs", 900)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.interval_secs", 300)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.quarantine_threshold", 10)
	v.SetDefault("monitoring.pending_threshold", 500)

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

// Validate checks that the configuration is usable for the given run mode.
// Problems are collected and reported together.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold > 1 {
		problems = append(problems, "dedup.similarity_threshold must be in (0, 1]")
	}
	if c.Worker.Parallelism < 0 || c.Worker.Parallelism > 64 {
		problems = append(problems, "worker.parallelism must be between 0 and 64")
	}

	switch mode {
	case "run":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
	case "sync":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Salesforce.ClientID == "" || c.Salesforce.Username == "" || c.Salesforce.KeyPath == "" {
			problems = append(problems, "salesforce.client_id, salesforce.username, and salesforce.key_path are required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
