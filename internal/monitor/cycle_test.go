package monitor

import (
	"context"
	"image/color"
	"testing"
	"time"

	"pagewatch/internal/capture"
	"pagewatch/internal/storage"
)

func activeStore(t *testing.T, refPNG []byte) *memStore {
	t.Helper()
	return &memStore{
		monitoring: storage.MonitoringRecord{
			Active:             true,
			IntervalMinSeconds: 40,
			IntervalMaxSeconds: 125,
		},
		hasMon: true,
		reference: &storage.ReferenceRecord{
			TargetURL:  "https://example.org/slots",
			CapturedAt: time.Now(),
			PNG:        refPNG,
		},
		settings:    configuredSettings(),
		hasSettings: true,
	}
}

func TestCheckCycleUnchanged(t *testing.T) {
	raw, img := uniformPNG(t, 100, 100, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	store := activeStore(t, raw)
	fc := &fakeCapture{
		target: capture.Target{URL: "https://example.org/slots"},
		sample: &capture.Sample{Image: img, PNG: raw, TakenAt: time.Now()},
	}
	alerts := &fakeAlerts{}
	localN := &fakeLocal{}
	e := newTestEngine(t, store, fc)
	e.SetAlertSink(alerts)
	e.SetLocalSink(localN)
	defer e.Stop()

	e.CheckCycle(context.Background())

	if store.monitoring.LastCheckAt == nil {
		t.Fatalf("lastCheckTime not updated")
	}
	if alerts.count() != 0 || localN.count() != 0 {
		t.Fatalf("no-change cycle must not notify (alerts=%d local=%d)", alerts.count(), localN.count())
	}
}

func TestCheckCycleDetectsChange(t *testing.T) {
	refRaw, _ := uniformPNG(t, 100, 100, color.RGBA{R: 10, G: 10, B: 10, A: 255})
	curRaw, curImg := uniformPNG(t, 100, 100, color.RGBA{R: 240, G: 240, B: 240, A: 255})
	store := activeStore(t, refRaw)
	fc := &fakeCapture{
		target: capture.Target{URL: "https://example.org/slots"},
		sample: &capture.Sample{Image: curImg, PNG: curRaw, TakenAt: time.Now()},
	}
	alerts := &fakeAlerts{}
	localN := &fakeLocal{}
	e := newTestEngine(t, store, fc)
	e.SetAlertSink(alerts)
	e.SetLocalSink(localN)
	defer e.Stop()

	e.CheckCycle(context.Background())

	if alerts.count() != 1 {
		t.Fatalf("notifier invoked %d times, want 1", alerts.count())
	}
	if localN.count() != 1 {
		t.Fatalf("local notification invoked %d times, want 1", localN.count())
	}
	a := alerts.alerts[0]
	if !a.Result.Changed || a.Result.ChangeMagnitude != 100 {
		t.Fatalf("alert result = %+v", a.Result)
	}
	if a.ChatID != 42 {
		t.Fatalf("alert chat = %d, want 42", a.ChatID)
	}
	if a.TargetURL != "https://example.org/slots" {
		t.Fatalf("alert target = %q", a.TargetURL)
	}
	if store.monitoring.LastCheckAt == nil {
		t.Fatalf("lastCheckTime not updated")
	}
}

func TestCheckCycleInactiveAbortsSilently(t *testing.T) {
	raw, img := uniformPNG(t, 100, 100, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	store := activeStore(t, raw)
	store.monitoring.Active = false
	fc := &fakeCapture{
		target: capture.Target{URL: "https://example.org/slots"},
		sample: &capture.Sample{Image: img, PNG: raw, TakenAt: time.Now()},
	}
	alerts := &fakeAlerts{}
	e := newTestEngine(t, store, fc)
	e.SetAlertSink(alerts)
	defer e.Stop()

	e.CheckCycle(context.Background())

	if store.monitoring.LastCheckAt != nil {
		t.Fatalf("inactive cycle must not advance lastCheckTime")
	}
	if fc.captures != 0 {
		t.Fatalf("inactive cycle must abort before capture")
	}
	if alerts.count() != 0 {
		t.Fatalf("inactive cycle must not notify")
	}
}

func TestCheckCycleCaptureFailureStillAdvancesTimestamp(t *testing.T) {
	raw, _ := uniformPNG(t, 100, 100, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	store := activeStore(t, raw)
	fc := &fakeCapture{
		target:     capture.Target{URL: "https://example.org/slots"},
		captureErr: context.DeadlineExceeded,
	}
	alerts := &fakeAlerts{}
	e := newTestEngine(t, store, fc)
	e.SetAlertSink(alerts)
	defer e.Stop()

	e.CheckCycle(context.Background())

	if store.monitoring.LastCheckAt == nil {
		t.Fatalf("failed capture must still advance lastCheckTime")
	}
	if alerts.count() != 0 {
		t.Fatalf("failed cycle must not notify")
	}
}

func TestCheckCycleUnresolvedTargetStillAdvancesTimestamp(t *testing.T) {
	raw, _ := uniformPNG(t, 100, 100, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	store := activeStore(t, raw)
	fc := &fakeCapture{resolveErr: capture.ErrNoTarget}
	e := newTestEngine(t, store, fc)
	defer e.Stop()

	e.CheckCycle(context.Background())

	if store.monitoring.LastCheckAt == nil {
		t.Fatalf("unresolved target must still advance lastCheckTime")
	}
	if fc.captures != 0 {
		t.Fatalf("unresolved target must abort before capture")
	}
}

func TestCheckCycleAutoRefreshReloads(t *testing.T) {
	raw, img := uniformPNG(t, 100, 100, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	store := activeStore(t, raw)
	store.monitoring.AutoRefresh = true
	store.monitoring.RefreshSettleDelayMS = 10
	fc := &fakeCapture{
		target: capture.Target{URL: "https://example.org/slots"},
		sample: &capture.Sample{Image: img, PNG: raw, TakenAt: time.Now()},
	}
	e := newTestEngine(t, store, fc)
	defer e.Stop()

	start := time.Now()
	e.CheckCycle(context.Background())

	if fc.reloads != 1 {
		t.Fatalf("reload count = %d, want 1", fc.reloads)
	}
	if fc.captures != 1 {
		t.Fatalf("capture count = %d, want 1", fc.captures)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("settle delay not honored, cycle took %v", elapsed)
	}
}

func TestCheckCycleRearmsWhileActive(t *testing.T) {
	raw, img := uniformPNG(t, 100, 100, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	store := activeStore(t, raw)
	fc := &fakeCapture{
		target: capture.Target{URL: "https://example.org/slots"},
		sample: &capture.Sample{Image: img, PNG: raw, TakenAt: time.Now()},
	}
	e := newTestEngine(t, store, fc)
	defer e.Stop()

	e.CheckCycle(context.Background())
	if _, armed := e.slot.next(); !armed {
		t.Fatalf("active cycle must re-arm the timer")
	}

	store.monitoring.Active = false
	e.slot.disarm()
	e.CheckCycle(context.Background())
	if _, armed := e.slot.next(); armed {
		t.Fatalf("inactive cycle must not re-arm")
	}
}
