package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  alert_chat_id: 42
  poll_timeout: "10s"
logging:
  level: "info"
  console: true
monitor:
  target_url: "https://example.org/slots"
  renderer_url: "http://127.0.0.1:3000"
  strategy: "pixel"
  interval_min_seconds: 40
  interval_max_seconds: 125
  auto_refresh: true
  refresh_settle_delay_ms: 1500
  change_threshold: 5.0
  capture_timeout: "30s"
notifier:
  enabled: true
  rate_per_sec: 1
  retry_max: 3
  retry_base: "500ms"
storage:
  driver: "file"
  path: "./store"
summary:
  enabled: true
  cron: "0 9 * * *"
`

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Monitor.IntervalMinSeconds != 40 || cfg.Monitor.IntervalMaxSeconds != 125 {
		t.Fatalf("intervals = %d..%d", cfg.Monitor.IntervalMinSeconds, cfg.Monitor.IntervalMaxSeconds)
	}
	if !cfg.Monitor.AutoRefresh || cfg.Monitor.RefreshSettleDelayMS != 1500 {
		t.Fatalf("monitor = %+v", cfg.Monitor)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "telegram": {"token": "123:abc"},
  "monitor": {
    "target_url": "https://example.org",
    "interval_min_seconds": 60,
    "interval_max_seconds": 90
  }
}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Monitor.TargetURL != "https://example.org" {
		t.Fatalf("target = %q", cfg.Monitor.TargetURL)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.json", `{"telegram": {"token": "x", "bogus_field": 1}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("unknown field must be rejected")
	}
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "123:abc"},
			Monitor: MonitorConfig{
				TargetURL:          "https://example.org",
				IntervalMinSeconds: 40,
				IntervalMaxSeconds: 125,
			},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"empty token", func(c *Config) { c.Telegram.Token = " " }, "telegram.token"},
		{"zero interval", func(c *Config) { c.Monitor.IntervalMinSeconds = 0 }, "interval bounds"},
		{"inverted interval", func(c *Config) {
			c.Monitor.IntervalMinSeconds = 90
			c.Monitor.IntervalMaxSeconds = 40
		}, "interval_min_seconds"},
		{"negative settle", func(c *Config) { c.Monitor.RefreshSettleDelayMS = -1 }, "refresh_settle_delay_ms"},
		{"bad strategy", func(c *Config) { c.Monitor.Strategy = "ocr" }, "monitor.strategy"},
		{"threshold out of range", func(c *Config) { c.Monitor.ChangeThreshold = 120 }, "change_threshold"},
		{"bad duration", func(c *Config) { c.Notifier.RetryBase = "fast" }, "retry_base"},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"bad timezone", func(c *Config) { c.Summary.Timezone = "Mars/Olympus" }, "summary.timezone"},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		err := Validate(cfg)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.wantSub) {
			t.Fatalf("%s: err = %v, want mention of %q", tc.name, err, tc.wantSub)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 10*time.Second)
	if err != nil || d != 10*time.Second {
		t.Fatalf("empty: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "1m30s", 0)
	if err != nil || d != 90*time.Second {
		t.Fatalf("parsed: %v %v", d, err)
	}
	if _, err = ParseDurationOrDefault("x", "soon", 0); err == nil {
		t.Fatalf("bad duration must error")
	}
}
