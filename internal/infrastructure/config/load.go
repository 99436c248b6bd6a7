package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "COOP"

// defaults registers every key so that environment overrides reach
// Unmarshal even for keys without a useful default
var defaults = map[string]any{
	"app.name":    "coop-settlement",
	"app.version": "",
	"app.env":     "development",
	"app.port":    "8080",

	"database.driver":             "postgres",
	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.password":           "",
	"database.dbname":             "coop",
	"database.sslmode":            "disable",
	"database.sqlite_path":        "coop.db",
	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  60,
	"database.conn_max_idle_time": 30,

	"redis.enabled":  false,
	"redis.host":     "localhost",
	"redis.port":     6379,
	"redis.password": "",
	"redis.db":       0,

	"jwt.secret": "",
	"jwt.issuer": "coop-portal",

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"http.read_timeout":     15 * time.Second,
	"http.write_timeout":    15 * time.Second,
	"http.idle_timeout":     time.Minute,
	"http.max_header_bytes": 1 << 20,

	"scheduler.enabled":             false,
	"scheduler.cron_schedule":       "0 2 1 * *",
	"scheduler.check_interval":      time.Minute,
	"scheduler.max_concurrent_jobs": 1,
	"scheduler.job_timeout":         2 * time.Hour,
	"scheduler.retry_attempts":      3,
	"scheduler.retry_delay":         5 * time.Minute,

	"settlement.workers":                   8,
	"settlement.run_timeout":               time.Hour,
	"settlement.lock_ttl":                  3 * time.Hour,
	"settlement.currency":                  "NGN",
	"settlement.large_deduction_threshold": 0,
	"settlement.timezone":                  "UTC",

	"telemetry.enabled":                 false,
	"telemetry.collector_endpoint":      "localhost:4317",
	"telemetry.sampling_ratio":          1.0,
	"telemetry.service_name":            "",
	"telemetry.insecure":                false,
	"telemetry.db_trace_enabled":        false,
	"telemetry.db_log_full_sql":         false,
	"telemetry.db_slow_query_threshold": 200 * time.Millisecond,
}

// Load reads config.toml from ., ./config or /app and overlays COOP_
// environment variables (COOP_DATABASE_PASSWORD sets database.password).
// A missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("toml")
	for _, dir := range []string{".", "./config", "/app"} {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
