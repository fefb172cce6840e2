package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides applied by ApplyEnv.
const (
	EnvLogLevel      = "MULTIBOT_LOG_LEVEL"
	EnvMetricsAddr   = "MULTIBOT_METRICS_ADDR"
	EnvClickHouseDSN = "MULTIBOT_CLICKHOUSE_DSN"
	EnvFeedProvider  = "MULTIBOT_FEED_PROVIDER"
	EnvSymbols       = "MULTIBOT_SYMBOLS"
)

// ApplyEnv loads the given dotenv files (missing files are skipped, real
// environment variables win) and overlays the MULTIBOT_* variables on cfg.
func ApplyEnv(cfg *Config, files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.App.MetricsAddr = v
	}
	if v := os.Getenv(EnvClickHouseDSN); v != "" {
		cfg.Storage.ClickHouseDSN = v
	}
	if v := os.Getenv(EnvFeedProvider); v != "" {
		cfg.Feed.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvSymbols); v != "" {
		var symbols []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
		cfg.Feed.Symbols = symbols
	}
	return nil
}
