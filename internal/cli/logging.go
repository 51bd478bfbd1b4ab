package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"papertrade/internal/config"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	return []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Data dir: %s", cfg.DataDir),
		fmt.Sprintf("Cache dir: %s", cfg.CacheDir),
		fmt.Sprintf("Starting balance: %.2f", cfg.StartingBalance),
		fmt.Sprintf("Polling (fast/slow): %s / %s", cfg.FastIntervalDuration(), cfg.SlowIntervalDuration()),
		fmt.Sprintf("Postgres: %s", presence(strings.TrimSpace(cfg.Postgres.DSN) != "")),
		fmt.Sprintf("Quote config: %s", fileOrDefault(cfg.QuoteConfigFile)),
		fmt.Sprintf("Fetch coalescing: %v", cfg.CoalesceFetches),
	}
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func fileOrDefault(file string) string {
	if strings.TrimSpace(file) != "" {
		return file
	}
	return "built-in chart provider"
}
