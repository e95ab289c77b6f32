// Package capture produces image samples of the watched page. The heavy
// lifting (rendering) is delegated to an external headless-browser service;
// this package is just its client plus text extraction for the keyword
// strategy.
package capture

import (
	"context"
	"errors"
	"image"
	"time"
)

// ErrNoTarget means no target URL is configured, so there is nothing to
// resolve or capture.
var ErrNoTarget = errors.New("no capturable target")

// Target identifies the page surface being watched.
type Target struct {
	URL string
}

// Sample is one rendered observation of the target.
type Sample struct {
	Image   image.Image
	PNG     []byte
	Text    string // visible page text; empty unless text extraction ran
	TakenAt time.Time
}

// Adapter is the page-capture boundary.
type Adapter interface {
	// Resolve returns the current target, or ErrNoTarget.
	Resolve(ctx context.Context) (Target, error)
	// Capture renders the target and returns a decoded image sample.
	Capture(ctx context.Context, t Target) (*Sample, error)
	// Reload forces the renderer to re-fetch the target before the next
	// capture.
	Reload(ctx context.Context, t Target) error
}
