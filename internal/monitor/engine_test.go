package monitor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"pagewatch/internal/capture"
	"pagewatch/internal/differ"
	"pagewatch/internal/notifier"
	"pagewatch/internal/storage"
	logx "pagewatch/pkg/logx"
)

// memStore is an in-memory storage.Store for engine tests.
type memStore struct {
	mu          sync.Mutex
	monitoring  storage.MonitoringRecord
	hasMon      bool
	reference   *storage.ReferenceRecord
	settings    storage.SettingsRecord
	hasSettings bool
}

func (s *memStore) Monitoring(context.Context) (storage.MonitoringRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitoring, s.hasMon, nil
}

func (s *memStore) PutMonitoring(_ context.Context, rec storage.MonitoringRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitoring, s.hasMon = rec, true
	return nil
}

func (s *memStore) Reference(context.Context) (*storage.ReferenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reference, nil
}

func (s *memStore) PutReference(_ context.Context, rec *storage.ReferenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reference = rec
	return nil
}

func (s *memStore) Settings(context.Context) (storage.SettingsRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, s.hasSettings, nil
}

func (s *memStore) PutSettings(_ context.Context, rec storage.SettingsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings, s.hasSettings = rec, true
	return nil
}

func (s *memStore) Close() error { return nil }

type fakeCapture struct {
	mu         sync.Mutex
	target     capture.Target
	resolveErr error
	sample     *capture.Sample
	captureErr error
	reloads    int
	captures   int
}

func (c *fakeCapture) Resolve(context.Context) (capture.Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolveErr != nil {
		return capture.Target{}, c.resolveErr
	}
	return c.target, nil
}

func (c *fakeCapture) Capture(context.Context, capture.Target) (*capture.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captures++
	if c.captureErr != nil {
		return nil, c.captureErr
	}
	return c.sample, nil
}

func (c *fakeCapture) Reload(context.Context, capture.Target) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloads++
	return nil
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []notifier.Alert
}

func (f *fakeAlerts) Notify(_ context.Context, a notifier.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeAlerts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakeLocal struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeLocal) Alert(string, string) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeLocal) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func uniformPNG(t *testing.T, w, h int, c color.RGBA) ([]byte, image.Image) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes(), img
}

func testDefaults() Defaults {
	return Defaults{
		TargetURL:          "https://example.org/slots",
		IntervalMinSeconds: 40,
		IntervalMaxSeconds: 125,
	}
}

func newTestEngine(t *testing.T, store storage.Store, cap capture.Adapter) *Engine {
	t.Helper()
	return NewEngine(store, cap, differ.Select("pixel", 0), testDefaults(), logx.Nop())
}

func configuredSettings() storage.SettingsRecord {
	return storage.SettingsRecord{BotToken: "123:abc", ChatID: "42"}
}

func TestCaptureReference(t *testing.T) {
	raw, img := uniformPNG(t, 100, 100, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	store := &memStore{settings: storage.SettingsRecord{Keywords: []string{"no slots"}}, hasSettings: true}
	cap := &fakeCapture{
		target: capture.Target{URL: "https://example.org/slots"},
		sample: &capture.Sample{Image: img, PNG: raw, TakenAt: time.Now()},
	}
	e := newTestEngine(t, store, cap)

	res := e.CaptureReference(context.Background())
	if !res.Success {
		t.Fatalf("capture failed: %s", res.Error)
	}
	if store.reference == nil {
		t.Fatalf("reference not persisted")
	}
	if store.reference.TargetURL != "https://example.org/slots" {
		t.Fatalf("target = %q", store.reference.TargetURL)
	}
	if len(store.reference.KeyPhrases) != 1 {
		t.Fatalf("keywords not copied into reference: %v", store.reference.KeyPhrases)
	}
	info, okc := res.Data.(ReferenceInfo)
	if !okc || info.PNGBytes != len(raw) {
		t.Fatalf("result data = %#v", res.Data)
	}
}

func TestCaptureReferenceUnresolvable(t *testing.T) {
	store := &memStore{}
	cap := &fakeCapture{resolveErr: capture.ErrNoTarget}
	e := newTestEngine(t, store, cap)

	res := e.CaptureReference(context.Background())
	if res.Success {
		t.Fatalf("expected failure")
	}
	if store.reference != nil {
		t.Fatalf("reference must not be written on failure")
	}
}

func TestCaptureReferenceCaptureError(t *testing.T) {
	store := &memStore{}
	cap := &fakeCapture{captureErr: errors.New("renderer down")}
	e := newTestEngine(t, store, cap)

	if res := e.CaptureReference(context.Background()); res.Success {
		t.Fatalf("expected failure")
	}
}

func TestStartMonitoringWithoutReference(t *testing.T) {
	store := &memStore{settings: configuredSettings(), hasSettings: true}
	e := newTestEngine(t, store, &fakeCapture{})

	res := e.StartMonitoring(context.Background())
	if res.Success {
		t.Fatalf("expected NoReference failure")
	}
	if res.Error != ErrNoReference.Error() {
		t.Fatalf("error = %q", res.Error)
	}
	if store.monitoring.Active {
		t.Fatalf("state must be unchanged on failure")
	}
}

func TestStartMonitoringWithoutCredentials(t *testing.T) {
	raw, _ := uniformPNG(t, 10, 10, color.RGBA{A: 255})
	store := &memStore{
		reference: &storage.ReferenceRecord{TargetURL: "u", CapturedAt: time.Now(), PNG: raw},
	}
	e := newTestEngine(t, store, &fakeCapture{})

	res := e.StartMonitoring(context.Background())
	if res.Success {
		t.Fatalf("expected failure with empty credentials")
	}
	if res.Error != "Telegram settings not configured" {
		t.Fatalf("error = %q, want %q", res.Error, "Telegram settings not configured")
	}
	if store.monitoring.Active {
		t.Fatalf("isActive must remain unchanged")
	}
}

func TestStartMonitoringPersistsActive(t *testing.T) {
	raw, _ := uniformPNG(t, 10, 10, color.RGBA{A: 255})
	store := &memStore{
		reference: &storage.ReferenceRecord{TargetURL: "u", CapturedAt: time.Now(), PNG: raw},
		settings:  configuredSettings(), hasSettings: true,
	}
	e := newTestEngine(t, store, &fakeCapture{})
	defer e.Stop()

	res := e.StartMonitoring(context.Background())
	if !res.Success {
		t.Fatalf("start failed: %s", res.Error)
	}
	if !store.monitoring.Active {
		t.Fatalf("isActive=true not persisted")
	}
	if store.monitoring.IntervalMinSeconds != 40 || store.monitoring.IntervalMaxSeconds != 125 {
		t.Fatalf("record not seeded from defaults: %+v", store.monitoring)
	}
	st, okc := res.Data.(Status)
	if !okc || st.State != StateActive {
		t.Fatalf("result data = %#v", res.Data)
	}
	if st.NextCheckAt == nil {
		t.Fatalf("first check not armed")
	}
}

func TestStopMonitoringIdempotent(t *testing.T) {
	raw, _ := uniformPNG(t, 10, 10, color.RGBA{A: 255})
	store := &memStore{
		reference: &storage.ReferenceRecord{TargetURL: "u", CapturedAt: time.Now(), PNG: raw},
		settings:  configuredSettings(), hasSettings: true,
	}
	e := newTestEngine(t, store, &fakeCapture{})
	defer e.Stop()

	if res := e.StartMonitoring(context.Background()); !res.Success {
		t.Fatalf("start: %s", res.Error)
	}
	for i := 0; i < 2; i++ {
		res := e.StopMonitoring(context.Background())
		if !res.Success {
			t.Fatalf("stop #%d failed: %s", i+1, res.Error)
		}
		if store.monitoring.Active {
			t.Fatalf("stop #%d left isActive=true", i+1)
		}
	}
}

func TestJitterWithinBounds(t *testing.T) {
	s := newSlot()
	for i := 0; i < 500; i++ {
		d := s.drawInterval(40, 125)
		if d < 40*time.Second || d > 125*time.Second {
			t.Fatalf("interval %v outside [40s,125s]", d)
		}
	}
}

func TestJitterDegenerateRange(t *testing.T) {
	s := newSlot()
	if d := s.drawInterval(60, 60); d != 60*time.Second {
		t.Fatalf("degenerate range drew %v", d)
	}
}

func TestGetStatusStates(t *testing.T) {
	store := &memStore{}
	e := newTestEngine(t, store, &fakeCapture{})
	defer e.Stop()

	res := e.GetStatus(context.Background())
	if !res.Success {
		t.Fatalf("status: %s", res.Error)
	}
	if st := res.Data.(Status); st.State != StateIdle {
		t.Fatalf("state = %q, want idle", st.State)
	}

	raw, _ := uniformPNG(t, 10, 10, color.RGBA{A: 255})
	store.reference = &storage.ReferenceRecord{TargetURL: "u", CapturedAt: time.Now(), PNG: raw}
	if st := e.GetStatus(context.Background()).Data.(Status); st.State != StateArmed {
		t.Fatalf("state = %q, want armed", st.State)
	}

	store.settings, store.hasSettings = configuredSettings(), true
	if res := e.StartMonitoring(context.Background()); !res.Success {
		t.Fatalf("start: %s", res.Error)
	}
	if st := e.GetStatus(context.Background()).Data.(Status); st.State != StateActive {
		t.Fatalf("state = %q, want active", st.State)
	}
}

func TestSaveSettingsTrims(t *testing.T) {
	store := &memStore{}
	e := newTestEngine(t, store, &fakeCapture{})

	res := e.SaveSettings(context.Background(), storage.SettingsRecord{
		BotToken: "  tok  ",
		ChatID:   " 42 ",
		Keywords: []string{" no slots ", "", "closed"},
	})
	if !res.Success {
		t.Fatalf("save: %s", res.Error)
	}
	if store.settings.BotToken != "tok" || store.settings.ChatID != "42" {
		t.Fatalf("credentials not trimmed: %+v", store.settings)
	}
	if len(store.settings.Keywords) != 2 {
		t.Fatalf("keywords = %v", store.settings.Keywords)
	}
}
