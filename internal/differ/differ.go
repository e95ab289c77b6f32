// Package differ computes the change signal between the reference snapshot
// and a fresh capture. Two strategies exist: pixel sampling (authoritative)
// and keyword matching (the older text-based detector, kept as an explicit
// alternate). They are separate implementations, never merged.
package differ

import (
	"errors"
	"math"
	"strings"

	"pagewatch/internal/capture"
)

// ErrBadSample marks an undecodable or incomplete sample; callers treat it
// as ComparisonFailed.
var ErrBadSample = errors.New("comparison failed: bad sample")

// DefaultChangeThreshold is the percentage of divergent sampled positions
// above which a check counts as a change.
const DefaultChangeThreshold = 5.0

// Result is the ephemeral outcome of one comparison.
type Result struct {
	Changed bool
	// ChangeMagnitude is 0..100: the percentage of sampled positions (or
	// key phrases) that diverged, rounded to 2 decimals.
	ChangeMagnitude float64
	// MissingSignals lists human-readable reasons for the change call.
	MissingSignals []string
}

// Reference is the comparison baseline handed to a strategy.
type Reference struct {
	Sample     *capture.Sample
	KeyPhrases []string
}

// Differ is one change-detection strategy.
type Differ interface {
	Name() string
	Compare(ref Reference, cur *capture.Sample) (Result, error)
}

// Select returns the configured strategy. Unknown names fall back to pixel.
func Select(strategy string, threshold float64) Differ {
	if threshold <= 0 {
		threshold = DefaultChangeThreshold
	}
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "keyword":
		return &KeywordDiff{Threshold: threshold}
	default:
		return &PixelDiff{Threshold: threshold}
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func pct(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return round2(100 * float64(part) / float64(total))
}
