package config

// Config is the on-disk daemon configuration (JSON or YAML).
//
// Monitoring state (active flag, last check time) is NOT here: it lives in
// the storage layer so the engine survives restarts. The monitor section
// below only seeds and re-seeds the persisted record's tunables.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Monitor  MonitorConfig  `json:"monitor"`
	Notifier NotifierConfig `json:"notifier"`
	Storage  StorageConfig  `json:"storage"`
	Summary  SummaryConfig  `json:"summary"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// AlertChatID is the default alert target; /settings can override the
	// persisted copy later.
	AlertChatID int64 `json:"alert_chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Mirror  LoggingMirror `json:"mirror"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingMirror forwards warn/error log lines to the operator chat.
type LoggingMirror struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// MonitorConfig holds the watch target and check-cycle tunables.
//
// All durations are Go duration strings.
type MonitorConfig struct {
	// TargetURL is the page being watched.
	TargetURL string `json:"target_url"`
	// RendererURL is the base URL of the headless-renderer service used to
	// screenshot the target.
	RendererURL string `json:"renderer_url"`
	// Strategy selects the change detector: "pixel" (default) or "keyword".
	Strategy string `json:"strategy,omitempty"`

	IntervalMinSeconds int  `json:"interval_min_seconds"`
	IntervalMaxSeconds int  `json:"interval_max_seconds"`
	AutoRefresh        bool `json:"auto_refresh"`
	// RefreshSettleDelayMS is the post-reload render pause before capture.
	RefreshSettleDelayMS int `json:"refresh_settle_delay_ms"`

	// ChangeThreshold is the percentage of divergent sampled pixels above
	// which a check counts as a change. Default 5.0.
	ChangeThreshold float64 `json:"change_threshold,omitempty"`

	// CaptureTimeout bounds one renderer/screenshot call. Default "30s".
	CaptureTimeout string `json:"capture_timeout,omitempty"`
}

// NotifierConfig controls the async alert pipeline.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	// DedupWindow suppresses identical alerts for the given duration.
	// Empty or "0s" keeps the default behavior: every qualifying check
	// re-notifies.
	DedupWindow string `json:"dedup_window,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example: "storage": { "driver": "file", "path": "./pagewatch_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SummaryConfig controls the daily liveness digest.
type SummaryConfig struct {
	Enabled bool `json:"enabled"`
	// Cron is a 5-field cron spec; default "0 9 * * *".
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}
