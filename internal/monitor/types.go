package monitor

import (
	"time"

	"pagewatch/internal/storage"
)

// Result is the uniform envelope every operator-initiated operation
// returns. Background cycles never produce one.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(data any) Result { return Result{Success: true, Data: data} }

func fail(err error) Result { return Result{Success: false, Error: err.Error()} }

// Engine states, derived from the store on every read. The engine keeps
// no authoritative state of its own.
const (
	StateIdle   = "idle"   // no reference captured
	StateArmed  = "armed"  // reference exists, monitoring off
	StateActive = "active" // checks scheduled
)

// Status is the read-only snapshot GetStatus returns.
type Status struct {
	State               string                   `json:"state"`
	TargetURL           string                   `json:"target_url,omitempty"`
	Strategy            string                   `json:"strategy"`
	Monitoring          storage.MonitoringRecord `json:"monitoring"`
	ReferenceCapturedAt *time.Time               `json:"reference_captured_at,omitempty"`
	NextCheckAt         *time.Time               `json:"next_check_at,omitempty"`
}

// ReferenceInfo summarizes a freshly captured baseline for the caller.
type ReferenceInfo struct {
	TargetURL  string    `json:"target_url"`
	CapturedAt time.Time `json:"captured_at"`
	PNGBytes   int       `json:"png_bytes"`
	KeyPhrases int       `json:"key_phrases"`
}

// CheckEvent is the bus payload for check lifecycle events.
type CheckEvent struct {
	At        time.Time `json:"at"`
	Changed   bool      `json:"changed"`
	Magnitude float64   `json:"magnitude"`
	Signals   []string  `json:"signals,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Defaults seeds a fresh MonitoringRecord and tracks the watched target.
// Pulled from file config; the persisted record wins once it exists.
type Defaults struct {
	TargetURL            string
	IntervalMinSeconds   int
	IntervalMaxSeconds   int
	AutoRefresh          bool
	RefreshSettleDelayMS int
	Strategy             string
}

func (d Defaults) normalized() Defaults {
	if d.IntervalMinSeconds <= 0 {
		d.IntervalMinSeconds = 60
	}
	if d.IntervalMaxSeconds < d.IntervalMinSeconds {
		d.IntervalMaxSeconds = d.IntervalMinSeconds
	}
	if d.RefreshSettleDelayMS < 0 {
		d.RefreshSettleDelayMS = 0
	}
	return d
}
