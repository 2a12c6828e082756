package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SNIPER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SNIPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SNIPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SNIPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SNIPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SNIPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SNIPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SNIPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SNIPER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SNIPER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SNIPER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SNIPER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SNIPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SNIPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SNIPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SNIPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SNIPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SNIPER_REDIS_TLS_ENABLED")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "SNIPER_FEED_WS_URL")

	// ── Token data provider ──
	setStr(&cfg.TokenData.BaseURL, "SNIPER_TOKENDATA_BASE_URL")
	setStr(&cfg.TokenData.APIKey, "SNIPER_TOKENDATA_API_KEY")

	// ── Trade engine sidecar ──
	setStr(&cfg.TradeEngine.BaseURL, "SNIPER_TRADEENGINE_BASE_URL")
	setStr(&cfg.TradeEngine.APIKey, "SNIPER_TRADEENGINE_API_KEY")
	setStr(&cfg.TradeEngine.SigningSecret, "SNIPER_TRADEENGINE_SIGNING_SECRET")

	// ── Dispatch ──
	setDuration(&cfg.Dispatch.MaxEventAge, "SNIPER_DISPATCH_MAX_EVENT_AGE")
	setInt(&cfg.Dispatch.FanoutLimit, "SNIPER_DISPATCH_FANOUT_LIMIT")
	setDuration(&cfg.Dispatch.LockTTL, "SNIPER_DISPATCH_LOCK_TTL")
	setInt(&cfg.Dispatch.BasePriority, "SNIPER_DISPATCH_BASE_PRIORITY")
	setInt(&cfg.Dispatch.PriorityPerSolFee, "SNIPER_DISPATCH_PRIORITY_PER_SOL_FEE")
	setDuration(&cfg.Dispatch.SnapshotTTL, "SNIPER_DISPATCH_SNAPSHOT_TTL")

	// ── Worker ──
	setInt(&cfg.Worker.Concurrency, "SNIPER_WORKER_CONCURRENCY")
	setInt(&cfg.Worker.JobsPerMinute, "SNIPER_WORKER_JOBS_PER_MINUTE")
	setDuration(&cfg.Worker.LockTTL, "SNIPER_WORKER_LOCK_TTL")
	setFloat64(&cfg.Worker.PlatformFeePct, "SNIPER_WORKER_PLATFORM_FEE_PCT")
	setFloat64(&cfg.Worker.NetworkFeeBufferSol, "SNIPER_WORKER_NETWORK_FEE_BUFFER_SOL")
	setDuration(&cfg.Worker.BalanceCacheTTL, "SNIPER_WORKER_BALANCE_CACHE_TTL")
	setInt(&cfg.Worker.BalanceReadRetries, "SNIPER_WORKER_BALANCE_READ_RETRIES")
	setDuration(&cfg.Worker.PollInterval, "SNIPER_WORKER_POLL_INTERVAL")

	// ── Automation ──
	setDuration(&cfg.Automation.PollInterval, "SNIPER_AUTOMATION_POLL_INTERVAL")
	setDuration(&cfg.Automation.SellCooldown, "SNIPER_AUTOMATION_SELL_COOLDOWN")
	setDuration(&cfg.Automation.PriceTimeout, "SNIPER_AUTOMATION_PRICE_TIMEOUT")
	setInt(&cfg.Automation.SellConcurrency, "SNIPER_AUTOMATION_SELL_CONCURRENCY")
	setDuration(&cfg.Automation.ReclaimAfter, "SNIPER_AUTOMATION_RECLAIM_AFTER")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SNIPER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "SNIPER_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "SNIPER_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "SNIPER_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "SNIPER_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "SNIPER_ARCHIVE_SECRET_KEY")
	setDuration(&cfg.Archive.Interval, "SNIPER_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "SNIPER_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SNIPER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SNIPER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SNIPER_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SNIPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SNIPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SNIPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SNIPER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SNIPER_MODE")
	setStr(&cfg.LogLevel, "SNIPER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
