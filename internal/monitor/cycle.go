package monitor

import (
	"context"
	"fmt"
	"time"

	"pagewatch/internal/capture"
	"pagewatch/internal/differ"
	"pagewatch/internal/eventbus"
	"pagewatch/internal/notifier"
	"pagewatch/internal/storage"
	logx "pagewatch/pkg/logx"
)

// CheckCycle runs one scheduled check: liveness re-check, optional
// reload+settle, capture, compare, status update, dispatch. Errors are
// logged and absorbed; a cycle must never take the scheduler down.
//
// The last-check timestamp advances on every cycle that passes the
// liveness check, even when capture or comparison fails, so a stale
// timestamp always means the engine itself stalled.
func (e *Engine) CheckCycle(ctx context.Context) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if e.store == nil {
		return
	}

	// Step 1: the scheduler may fire after a stop raced with it. Abort
	// silently, without touching the timestamp and without re-arming.
	rec, found, err := e.store.Monitoring(ctx)
	if err != nil {
		e.log.Error("check: load monitoring record", logx.Err(err))
		return
	}
	if !found || !rec.Active {
		return
	}
	defer e.rearm(ctx)

	_, _, bus := e.sinks()
	publish(bus, eventbus.TypeCheckStarted, CheckEvent{At: time.Now()})

	result, cerr := e.runCheck(ctx, rec)

	// Step 5: unconditional once past liveness, so the operator can tell
	// a failing check from a dead engine.
	e.touchLastCheck(ctx)

	ev := CheckEvent{At: time.Now(), Changed: result.Changed, Magnitude: result.ChangeMagnitude, Signals: result.MissingSignals}
	if cerr != nil {
		ev.Error = cerr.Error()
		e.log.Warn("check cycle failed", logx.Err(cerr))
		publish(bus, eventbus.TypeCheckFinished, ev)
		return
	}
	publish(bus, eventbus.TypeCheckFinished, ev)
	e.log.Info("check cycle done",
		logx.Bool("changed", result.Changed),
		logx.Float64("magnitude", result.ChangeMagnitude))

	if result.Changed {
		e.dispatch(ctx, result)
	}
}

// runCheck performs steps 2 through 4 and returns the comparison outcome.
func (e *Engine) runCheck(ctx context.Context, rec storage.MonitoringRecord) (differ.Result, error) {
	// Step 2: resolve the target surface.
	target, err := e.cap.Resolve(ctx)
	if err != nil {
		return differ.Result{}, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	// Step 3: optional reload, then settle so the page finishes rendering.
	if rec.AutoRefresh {
		if err := e.cap.Reload(ctx, target); err != nil {
			e.log.Warn("reload failed, capturing anyway", logx.Err(err))
		}
		if settle := time.Duration(rec.RefreshSettleDelayMS) * time.Millisecond; settle > 0 {
			t := time.NewTimer(settle)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return differ.Result{}, ctx.Err()
			}
		}
	}

	// Step 4: capture and compare against the stored baseline.
	sample, err := e.cap.Capture(ctx, target)
	if err != nil {
		return differ.Result{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	ref, err := e.store.Reference(ctx)
	if err != nil {
		return differ.Result{}, fmt.Errorf("load reference: %w", err)
	}
	if ref == nil {
		return differ.Result{}, ErrNoReference
	}
	refSample, err := capture.NewDecodedSample(ref.PNG, ref.CapturedAt)
	if err != nil {
		return differ.Result{}, fmt.Errorf("%w: %v", ErrComparisonFailed, err)
	}
	result, err := e.differ().Compare(differ.Reference{Sample: refSample, KeyPhrases: ref.KeyPhrases}, sample)
	if err != nil {
		return differ.Result{}, fmt.Errorf("%w: %v", ErrComparisonFailed, err)
	}
	e.lastSnapshot(sample)
	return result, nil
}

// dispatch runs step 6: both notification paths fire from the same
// trigger, each with isolated error handling, neither gating the other.
func (e *Engine) dispatch(ctx context.Context, result differ.Result) {
	alerts, local, bus := e.sinks()
	now := time.Now()
	publish(bus, eventbus.TypeChangeFound, CheckEvent{At: now, Changed: true, Magnitude: result.ChangeMagnitude, Signals: result.MissingSignals})

	targetURL := ""
	if ref, err := e.store.Reference(ctx); err == nil && ref != nil {
		targetURL = ref.TargetURL
	}

	if alerts != nil {
		if chatID, err := e.alertChat(ctx); err != nil {
			e.log.Warn("alert skipped", logx.Err(err))
		} else {
			alert := notifier.Alert{
				ChatID:      chatID,
				TargetURL:   targetURL,
				Result:      result,
				SnapshotPNG: e.takeSnapshot(),
				At:          now,
			}
			if err := alerts.Notify(ctx, alert); err != nil {
				e.log.Warn("alert enqueue failed", logx.Err(err))
			}
		}
	}

	if local != nil {
		body := fmt.Sprintf("magnitude %.2f%%", result.ChangeMagnitude)
		if len(result.MissingSignals) > 0 {
			body += " (" + result.MissingSignals[0] + ")"
		}
		local.Alert("Page change detected", body)
	}
}

func (e *Engine) alertChat(ctx context.Context) (int64, error) {
	settings, found, err := e.store.Settings(ctx)
	if err != nil {
		return 0, fmt.Errorf("load settings: %w", err)
	}
	if !found {
		return 0, ErrNotConfigured
	}
	return chatIDFromSettings(settings)
}

func (e *Engine) touchLastCheck(ctx context.Context) {
	rec, found, err := e.store.Monitoring(ctx)
	if err != nil || !found {
		return
	}
	now := time.Now()
	rec.LastCheckAt = &now
	if err := e.store.PutMonitoring(ctx, rec); err != nil {
		e.log.Warn("persist last-check time", logx.Err(err))
	}
}

// rearm schedules the next cycle with a freshly drawn interval if the
// record is still active after this cycle.
func (e *Engine) rearm(ctx context.Context) {
	rec, found, err := e.store.Monitoring(ctx)
	if err != nil || !found || !rec.Active {
		return
	}
	d := e.slot.drawInterval(rec.IntervalMinSeconds, rec.IntervalMaxSeconds)
	e.arm(d)
	e.log.Debug("next check armed", logx.Duration("interval", d))
}

func publish(bus eventbus.Bus, typ string, ev CheckEvent) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// lastSnapshot keeps the most recent capture so the alert can attach it.
func (e *Engine) lastSnapshot(s *capture.Sample) {
	e.mu.Lock()
	if s != nil {
		e.snapshot = s.PNG
	}
	e.mu.Unlock()
}

func (e *Engine) takeSnapshot() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}
