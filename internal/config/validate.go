package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks invariants that must hold before a config is committed,
// both at startup and on hot reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}

	m := cfg.Monitor
	if u := strings.TrimSpace(m.TargetURL); u != "" {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("monitor.target_url: %w", err)
		}
	}
	if u := strings.TrimSpace(m.RendererURL); u != "" {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("monitor.renderer_url: %w", err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(m.Strategy)) {
	case "", "pixel", "keyword":
	default:
		return fmt.Errorf("monitor.strategy: must be \"pixel\" or \"keyword\"")
	}
	if m.IntervalMinSeconds <= 0 || m.IntervalMaxSeconds <= 0 {
		return fmt.Errorf("monitor: interval bounds must be > 0")
	}
	if m.IntervalMinSeconds > m.IntervalMaxSeconds {
		return fmt.Errorf("monitor: interval_min_seconds must be <= interval_max_seconds")
	}
	if m.RefreshSettleDelayMS < 0 {
		return fmt.Errorf("monitor.refresh_settle_delay_ms must be >= 0")
	}
	if m.ChangeThreshold < 0 || m.ChangeThreshold > 100 {
		return fmt.Errorf("monitor.change_threshold must be within [0,100]")
	}
	if _, err := ParseDurationField("monitor.capture_timeout", m.CaptureTimeout); err != nil {
		return err
	}

	n := cfg.Notifier
	if n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
		return fmt.Errorf("notifier: sizes and rates must be >= 0")
	}
	for path, raw := range map[string]string{
		"notifier.retry_base":      n.RetryBase,
		"notifier.retry_max_delay": n.RetryMaxDelay,
		"notifier.dedup_window":    n.DedupWindow,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}

	if tz := strings.TrimSpace(cfg.Summary.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("summary.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
