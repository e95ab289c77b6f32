package app

import (
	"fmt"
	"strings"
	"time"

	"pagewatch/internal/capture"
	"pagewatch/internal/config"
	"pagewatch/internal/monitor"
	"pagewatch/internal/notifier"
	"pagewatch/internal/services/summary"
	"pagewatch/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(cfg.Storage.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	retryBase, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	if n.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	return notifier.Config{
		Enabled:       n.Enabled,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		DedupWindow:   dedup,
	}, nil
}

func mapMonitorDefaults(cfg *config.Config) monitor.Defaults {
	m := cfg.Monitor
	return monitor.Defaults{
		TargetURL:            m.TargetURL,
		IntervalMinSeconds:   m.IntervalMinSeconds,
		IntervalMaxSeconds:   m.IntervalMaxSeconds,
		AutoRefresh:          m.AutoRefresh,
		RefreshSettleDelayMS: m.RefreshSettleDelayMS,
		Strategy:             m.Strategy,
	}
}

func mapCaptureConfig(cfg *config.Config) (capture.RendererConfig, error) {
	timeout, err := config.ParseDurationOrDefault("monitor.capture_timeout", cfg.Monitor.CaptureTimeout, 30*time.Second)
	if err != nil {
		return capture.RendererConfig{}, err
	}
	return capture.RendererConfig{
		TargetURL:   cfg.Monitor.TargetURL,
		RendererURL: cfg.Monitor.RendererURL,
		Timeout:     timeout,
	}, nil
}

func mapSummaryConfig(cfg *config.Config) summary.Config {
	return summary.Config{
		Enabled:  cfg.Summary.Enabled,
		Cron:     cfg.Summary.Cron,
		Timezone: cfg.Summary.Timezone,
	}
}
