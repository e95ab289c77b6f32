package monitor

import "errors"

// Operation errors surfaced to the operator as structured failure results.
// Background-cycle errors are logged and absorbed instead.
var (
	ErrCaptureUnavailable = errors.New("no capturable target available")
	ErrCaptureFailed      = errors.New("capture failed")
	ErrNoReference        = errors.New("no reference snapshot captured")
	// ErrNotConfigured wording is operator-facing; the settings command
	// tells them what to fill in.
	ErrNotConfigured    = errors.New("Telegram settings not configured")
	ErrComparisonFailed = errors.New("comparison failed")
)
