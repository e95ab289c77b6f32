package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (atomic JSON snapshots)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// MonitoringRecord is the engine's persisted control state. Mutated only by
// the monitor engine (start/stop/check).
//
// Invariant: IntervalMinSeconds <= IntervalMaxSeconds, both > 0 while
// Active is true.
type MonitoringRecord struct {
	Active               bool       `json:"active"`
	IntervalMinSeconds   int        `json:"interval_min_seconds"`
	IntervalMaxSeconds   int        `json:"interval_max_seconds"`
	AutoRefresh          bool       `json:"auto_refresh"`
	RefreshSettleDelayMS int        `json:"refresh_settle_delay_ms"`
	LastCheckAt          *time.Time `json:"last_check_at,omitempty"`
}

// ReferenceRecord is the baseline snapshot every later check is compared
// against. Immutable once written; replaced wholesale by a new capture.
type ReferenceRecord struct {
	TargetURL  string    `json:"target_url"`
	CapturedAt time.Time `json:"captured_at"`
	PNG        []byte    `json:"png"`
	KeyPhrases []string  `json:"key_phrases,omitempty"`
}

// SettingsRecord holds operator-entered notification credentials and the
// current keyword list. Stored verbatim; only non-emptiness is ever checked.
type SettingsRecord struct {
	BotToken string   `json:"bot_token"`
	ChatID   string   `json:"chat_id"`
	Keywords []string `json:"keywords,omitempty"`
}

// Store is the persistence API used by the engine and control surface.
// Each call is atomic on its own; there are no cross-record transactions.
type Store interface {
	Monitoring(ctx context.Context) (MonitoringRecord, bool, error)
	PutMonitoring(ctx context.Context, rec MonitoringRecord) error

	// Reference returns nil when no snapshot has been captured yet.
	Reference(ctx context.Context) (*ReferenceRecord, error)
	PutReference(ctx context.Context, rec *ReferenceRecord) error

	Settings(ctx context.Context) (SettingsRecord, bool, error)
	PutSettings(ctx context.Context, rec SettingsRecord) error

	Close() error
}
