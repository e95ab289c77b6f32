package differ

import (
	"fmt"
	"strings"

	"pagewatch/internal/capture"
)

// KeywordDiff is the superseded text-based detector, retained as an
// explicitly selectable alternate. It reports the share of reference key
// phrases that disappeared from the current page text.
type KeywordDiff struct {
	Threshold float64
}

func (d *KeywordDiff) Name() string { return "keyword" }

func (d *KeywordDiff) Compare(ref Reference, cur *capture.Sample) (Result, error) {
	if cur == nil {
		return Result{}, ErrBadSample
	}
	if len(ref.KeyPhrases) == 0 {
		// Nothing to watch for; never a change signal.
		return Result{}, nil
	}
	text := strings.ToLower(cur.Text)
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("%w: no page text in sample", ErrBadSample)
	}

	var missing []string
	for _, phrase := range ref.KeyPhrases {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" {
			continue
		}
		if !strings.Contains(text, p) {
			missing = append(missing, fmt.Sprintf("keyword missing: %s", strings.TrimSpace(phrase)))
		}
	}

	magnitude := pct(len(missing), len(ref.KeyPhrases))
	res := Result{ChangeMagnitude: magnitude, MissingSignals: missing}
	if magnitude > d.threshold() {
		res.Changed = true
	}
	return res, nil
}

func (d *KeywordDiff) threshold() float64 {
	if d.Threshold > 0 {
		return d.Threshold
	}
	return DefaultChangeThreshold
}
