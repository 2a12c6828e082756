// Package config defines the top-level configuration for the migration
// sniper daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SNIPER_* environment variables.
type Config struct {
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	Feed        FeedConfig        `toml:"feed"`
	TokenData   TokenDataConfig   `toml:"tokendata"`
	TradeEngine TradeEngineConfig `toml:"tradeengine"`
	Dispatch    DispatchConfig    `toml:"dispatch"`
	Worker      WorkerConfig      `toml:"worker"`
	Automation  AutomationConfig  `toml:"automation"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// FeedConfig holds parameters for the migration event stream.
type FeedConfig struct {
	WsURL string `toml:"ws_url"`
}

// TokenDataConfig holds parameters for the token analysis / price provider.
type TokenDataConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// TradeEngineConfig holds parameters for the trade execution sidecar.
type TradeEngineConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	// SigningSecret enables HMAC request signing when set.
	SigningSecret string `toml:"signing_secret"`
}

// DispatchConfig tunes the dispatch orchestrator.
type DispatchConfig struct {
	// MaxEventAge is the staleness bound; events detected further in the
	// past than this are dropped outright.
	MaxEventAge duration `toml:"max_event_age"`
	// FanoutLimit bounds concurrent filter evaluation per event.
	FanoutLimit int `toml:"fanout_limit"`
	// LockTTL bounds dispatch-scope lock lifetime.
	LockTTL duration `toml:"lock_ttl"`
	// BasePriority and PriorityPerSolFee map priority fee to queue priority.
	BasePriority      int `toml:"base_priority"`
	PriorityPerSolFee int `toml:"priority_per_sol_fee"`
	// SnapshotTTL bounds how long a per-event aux data snapshot is kept.
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// WorkerConfig tunes the execution worker pool.
type WorkerConfig struct {
	Concurrency   int      `toml:"concurrency"`
	JobsPerMinute int      `toml:"jobs_per_minute"`
	LockTTL       duration `toml:"lock_ttl"`
	// PlatformFeePct is charged as a percentage of the buy amount.
	PlatformFeePct float64 `toml:"platform_fee_pct"`
	// NetworkFeeBufferSol is a fixed reserve kept for network fees.
	NetworkFeeBufferSol float64  `toml:"network_fee_buffer_sol"`
	BalanceCacheTTL     duration `toml:"balance_cache_ttl"`
	BalanceReadRetries  int      `toml:"balance_read_retries"`
	PollInterval        duration `toml:"poll_interval"`
}

// AutomationConfig tunes the position automation engine.
type AutomationConfig struct {
	PollInterval duration `toml:"poll_interval"`
	// SellCooldown backs a position off after a failed sell attempt.
	SellCooldown duration `toml:"sell_cooldown"`
	PriceTimeout duration `toml:"price_timeout"`
	// SellConcurrency bounds how many triggered sells run at once.
	SellConcurrency int `toml:"sell_concurrency"`
	// ReclaimAfter is how long a position may sit in selling before it is
	// reverted to open. Must exceed the trade engine request timeout.
	ReclaimAfter duration `toml:"reclaim_after"`
}

// ArchiveConfig tunes the closed-position cold storage export. Disabled
// unless a bucket is configured.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Interval       duration `toml:"interval"`
	RetentionDays  int      `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters for the operator API.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s", "500ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "sniperbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Feed: FeedConfig{
			WsURL: "ws://localhost:8900/migrations",
		},
		TokenData: TokenDataConfig{
			BaseURL: "http://localhost:8901",
		},
		TradeEngine: TradeEngineConfig{
			BaseURL: "http://localhost:8902",
		},
		Dispatch: DispatchConfig{
			MaxEventAge:       duration{30 * time.Second},
			FanoutLimit:       16,
			LockTTL:           duration{2 * time.Minute},
			BasePriority:      100,
			PriorityPerSolFee: 1000,
			SnapshotTTL:       duration{time.Minute},
		},
		Worker: WorkerConfig{
			Concurrency:         4,
			JobsPerMinute:       30,
			LockTTL:             duration{5 * time.Minute},
			PlatformFeePct:      1.0,
			NetworkFeeBufferSol: 0.01,
			BalanceCacheTTL:     duration{10 * time.Second},
			BalanceReadRetries:  3,
			PollInterval:        duration{200 * time.Millisecond},
		},
		Automation: AutomationConfig{
			PollInterval:    duration{500 * time.Millisecond},
			SellCooldown:    duration{30 * time.Second},
			PriceTimeout:    duration{3 * time.Second},
			SellConcurrency: 8,
			ReclaimAfter:    duration{5 * time.Minute},
		},
		Archive: ArchiveConfig{
			Region:        "us-east-1",
			UseSSL:        true,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"snipe_executed", "snipe_failed", "sniper_deactivated", "position_closed", "sell_failed"},
		},
		Mode:     "sniper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sniper":     true,
	"dispatch":   true,
	"worker":     true,
	"automation": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var problems []string

	if !validModes[strings.ToLower(c.Mode)] {
		problems = append(problems, fmt.Sprintf("mode: unsupported value %q", c.Mode))
	}
	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		problems = append(problems, fmt.Sprintf("log_level: unsupported value %q", c.LogLevel))
	}
	if c.Redis.Addr == "" {
		problems = append(problems, "redis.addr: required")
	}
	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		problems = append(problems, "postgres: dsn or host/database/user required")
	}
	if c.Feed.WsURL == "" {
		problems = append(problems, "feed.ws_url: required")
	}
	if c.TradeEngine.BaseURL == "" {
		problems = append(problems, "tradeengine.base_url: required")
	}
	if c.Dispatch.MaxEventAge.Duration <= 0 {
		problems = append(problems, "dispatch.max_event_age: must be positive")
	}
	if c.Dispatch.FanoutLimit <= 0 {
		problems = append(problems, "dispatch.fanout_limit: must be positive")
	}
	if c.Dispatch.LockTTL.Duration <= 0 {
		problems = append(problems, "dispatch.lock_ttl: must be positive")
	}
	if c.Worker.Concurrency <= 0 {
		problems = append(problems, "worker.concurrency: must be positive")
	}
	if c.Worker.JobsPerMinute <= 0 {
		problems = append(problems, "worker.jobs_per_minute: must be positive")
	}
	if c.Worker.LockTTL.Duration <= c.Dispatch.LockTTL.Duration {
		problems = append(problems, "worker.lock_ttl: must exceed dispatch.lock_ttl")
	}
	if c.Worker.PlatformFeePct < 0 || c.Worker.PlatformFeePct > 100 {
		problems = append(problems, "worker.platform_fee_pct: must be in [0,100]")
	}
	if c.Automation.PollInterval.Duration <= 0 {
		problems = append(problems, "automation.poll_interval: must be positive")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		problems = append(problems, "archive.bucket: required when archive is enabled")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, fmt.Sprintf("server.port: invalid value %d", c.Server.Port))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
