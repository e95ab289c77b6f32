package notifier

import (
	"time"

	"pagewatch/internal/differ"
)

// Config controls the async alert pipeline.
type Config struct {
	Enabled       bool
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// DedupWindow suppresses identical alerts for its duration. Zero keeps
	// the default behavior: every qualifying check re-notifies.
	DedupWindow time.Duration
}

// Alert describes one detected change on its way to the operator.
type Alert struct {
	ChatID      int64
	TargetURL   string
	Result      differ.Result
	SnapshotPNG []byte
	At          time.Time
}

// AlertEvent is published on the event bus for alert lifecycle events.
type AlertEvent struct {
	ChatID    int64     `json:"chat_id"`
	Key       string    `json:"key"`
	Magnitude float64   `json:"magnitude"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
