package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration, loaded from YAML with
// environment overrides for secrets.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Database     DatabaseConfig     `yaml:"database"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Queue        QueueConfig        `yaml:"queue"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Alerting     AlertingConfig     `yaml:"alerting"`
	Transparency TransparencyConfig `yaml:"transparency"`
	Dispensas    DispensaConfig     `yaml:"dispensas"`
	NATS         NATSConfig         `yaml:"nats"`
}

// ServerConfig controls the operational HTTP surface.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig controls zerolog initialisation.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console, auto
}

// DatabaseConfig points at the SQLite file backing all persisted state.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ExecutorConfig bounds the parallel task executor.
type ExecutorConfig struct {
	MaxConcurrent         int  `yaml:"max_concurrent"`
	DefaultTimeoutSeconds int  `yaml:"default_timeout_seconds"`
	EnablePooling         bool `yaml:"enable_pooling"`
}

// QueueConfig controls the priority task queue and its worker pool.
type QueueConfig struct {
	MaxWorkers             int      `yaml:"max_workers"`
	TaskSoftTimeLimit      int      `yaml:"task_soft_time_limit"`     // seconds
	TaskHardTimeLimit      int      `yaml:"task_hard_time_limit"`     // seconds
	ResultRetentionSeconds int      `yaml:"result_retention_seconds"` // in-memory retention
	AcceptContentTypes     []string `yaml:"accept_content_types"`
}

// MonitorConfig controls the auto-investigation monitor.
type MonitorConfig struct {
	ValueThreshold        float64  `yaml:"value_threshold"`
	DailyContractLimit    int      `yaml:"daily_contract_limit"`
	LookbackHoursDefault  int      `yaml:"lookback_hours_default"`
	MonthsBackDefault     int      `yaml:"months_back_default"`
	BatchSize             int      `yaml:"batch_size"`
	PriorityOrganisations []string `yaml:"priority_organisations"`
	SupplierWatchlist     []string `yaml:"supplier_watchlist"`
}

// AlertingConfig controls the alert fanout channels.
type AlertingConfig struct {
	WebhookURLs  []string `yaml:"webhook_urls"`
	AlertEmails  []string `yaml:"alert_emails"`
	EmailEnabled bool     `yaml:"email_enabled"`
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUser     string   `yaml:"smtp_user"`
	SMTPPassword string   `yaml:"smtp_password"`
	EmailFrom    string   `yaml:"email_from"`
}

// TransparencyConfig configures the Portal da Transparência client.
type TransparencyConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	MaxRetries        int    `yaml:"max_retries"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
}

// DispensaConfig configures the external bidding-waiver source.
type DispensaConfig struct {
	BaseURL     string `yaml:"base_url"`
	BearerToken string `yaml:"bearer_token"`
}

// NATSConfig configures the optional event bridge.
type NATSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	DataDir  string `yaml:"data_dir"`
}

// Default returns a configuration with every knob at its documented default.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: 8000},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		Database: DatabaseConfig{
			Path: "data/cidadao.db",
		},
		Executor: ExecutorConfig{
			MaxConcurrent:         5,
			DefaultTimeoutSeconds: 60,
			EnablePooling:         true,
		},
		Queue: QueueConfig{
			MaxWorkers:             4,
			TaskSoftTimeLimit:      300,
			TaskHardTimeLimit:      600,
			ResultRetentionSeconds: 3600,
			AcceptContentTypes:     []string{"application/json"},
		},
		Monitor: MonitorConfig{
			ValueThreshold:       1_000_000,
			DailyContractLimit:   500,
			LookbackHoursDefault: 24,
			MonthsBackDefault:    6,
			BatchSize:            100,
		},
		Alerting: AlertingConfig{
			SMTPPort:  587,
			EmailFrom: "alertas@cidadao.ai",
		},
		Transparency: TransparencyConfig{
			BaseURL:           "https://api.portaldatransparencia.gov.br/api-de-dados",
			RequestsPerMinute: 30,
			MaxRetries:        3,
			TimeoutSeconds:    30,
		},
		Dispensas: DispensaConfig{},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			DataDir: "data/nats",
		},
	}
}

// Load reads the YAML config at path on top of the defaults and applies
// environment overrides for secrets. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides secret-bearing fields from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("TRANSPARENCY_API_KEY"); v != "" {
		c.Transparency.APIKey = v
	}
	if v := os.Getenv("DISPENSAS_BEARER_TOKEN"); v != "" {
		c.Dispensas.BearerToken = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.Alerting.SMTPPassword = v
	}
}

// DefaultTimeout returns the executor default timeout as a duration.
func (e ExecutorConfig) DefaultTimeout() time.Duration {
	return time.Duration(e.DefaultTimeoutSeconds) * time.Second
}

// SoftLimit returns the queue soft time limit as a duration.
func (q QueueConfig) SoftLimit() time.Duration {
	return time.Duration(q.TaskSoftTimeLimit) * time.Second
}

// HardLimit returns the queue hard time limit as a duration.
func (q QueueConfig) HardLimit() time.Duration {
	return time.Duration(q.TaskHardTimeLimit) * time.Second
}
