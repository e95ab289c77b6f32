package control

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pagewatch/internal/capture"
	"pagewatch/internal/differ"
	"pagewatch/internal/monitor"
	"pagewatch/internal/storage"
	kit "pagewatch/internal/transport"
	logx "pagewatch/pkg/logx"
)

type replyAdapter struct {
	mu      sync.Mutex
	replies []string
}

func (r *replyAdapter) Start(context.Context, chan<- kit.Message) error { return nil }
func (r *replyAdapter) Stop(context.Context) error                      { return nil }

func (r *replyAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, text)
	return kit.MessageRef{}, nil
}

func (r *replyAdapter) SendPhoto(context.Context, kit.ChatTarget, kit.Photo) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (r *replyAdapter) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return ""
	}
	return r.replies[len(r.replies)-1]
}

func (r *replyAdapter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replies)
}

// memStore mirrors the storage.Store contract in memory.
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

type noCapture struct{}

func (noCapture) Resolve(context.Context) (capture.Target, error) {
	return capture.Target{}, capture.ErrNoTarget
}
func (noCapture) Capture(context.Context, capture.Target) (*capture.Sample, error) {
	return nil, capture.ErrNoTarget
}
func (noCapture) Reload(context.Context, capture.Target) error { return nil }

func newTestDispatcher(store *memStore, owners []int64) (*Dispatcher, *replyAdapter) {
	ad := &replyAdapter{}
	eng := monitor.NewEngine(store, noCapture{}, differ.Select("pixel", 0), monitor.Defaults{
		IntervalMinSeconds: 40,
		IntervalMaxSeconds: 125,
	}, logx.Nop())
	return New(eng, store, ad, owners, logx.Nop()), ad
}

func msg(from int64, text string) kit.Message {
	return kit.Message{ChatID: 7, FromID: from, Text: text}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in       string
		name     string
		args     []string
		expected bool
	}{
		{"/status", "status", nil, true},
		{"/Watch  now ", "watch", []string{"now"}, true},
		{"/status@pagewatch_bot", "status", nil, true},
		{"plain text", "", nil, false},
		{"/", "", nil, false},
		{"   ", "", nil, false},
	}
	for _, tc := range cases {
		name, args, okp := parseCommand(tc.in)
		if okp != tc.expected || name != tc.name || len(args) != len(tc.args) {
			t.Fatalf("parse(%q) = (%q, %v, %v)", tc.in, name, args, okp)
		}
	}
}

func TestStatusCommandReplies(t *testing.T) {
	d, ad := newTestDispatcher(&memStore{}, nil)
	d.handle(context.Background(), msg(1, "/status"))
	reply := ad.last()
	if !strings.Contains(reply, "state: idle") {
		t.Fatalf("status reply = %q", reply)
	}
}

func TestOwnerGating(t *testing.T) {
	d, ad := newTestDispatcher(&memStore{}, []int64{42})

	// Non-owner: mutating command silently dropped.
	d.handle(context.Background(), msg(1, "/pause"))
	if ad.count() != 0 {
		t.Fatalf("non-owner command must be ignored, got %q", ad.last())
	}

	// Read-only command stays open to everyone.
	d.handle(context.Background(), msg(1, "/status"))
	if ad.count() != 1 {
		t.Fatalf("/status should be allowed for non-owners")
	}

	// Owner passes.
	d.handle(context.Background(), msg(42, "/pause"))
	if ad.count() != 2 {
		t.Fatalf("owner command must be handled")
	}
}

func TestSettingsCommand(t *testing.T) {
	store := &memStore{}
	d, ad := newTestDispatcher(store, nil)

	d.handle(context.Background(), msg(1, "/settings"))
	if !strings.Contains(ad.last(), "usage:") {
		t.Fatalf("missing-args reply = %q", ad.last())
	}

	d.handle(context.Background(), msg(1, "/settings 123:abc 42"))
	if store.settings.BotToken != "123:abc" || store.settings.ChatID != "42" {
		t.Fatalf("settings not stored: %+v", store.settings)
	}
}

func TestKeywordsCommand(t *testing.T) {
	store := &memStore{}
	d, ad := newTestDispatcher(store, nil)

	d.handle(context.Background(), msg(1, "/keywords"))
	if !strings.Contains(ad.last(), "no key phrases") {
		t.Fatalf("empty list reply = %q", ad.last())
	}

	d.handle(context.Background(), msg(1, "/keywords no slots; sold out"))
	if len(store.settings.Keywords) != 2 {
		t.Fatalf("keywords = %v", store.settings.Keywords)
	}
	if store.settings.Keywords[0] != "no slots" || store.settings.Keywords[1] != "sold out" {
		t.Fatalf("keywords = %v", store.settings.Keywords)
	}

	d.handle(context.Background(), msg(1, "/keywords clear"))
	if len(store.settings.Keywords) != 0 {
		t.Fatalf("clear failed: %v", store.settings.Keywords)
	}
}

func TestWatchWithoutReferenceReportsError(t *testing.T) {
	store := &memStore{settings: storage.SettingsRecord{BotToken: "t", ChatID: "1"}, hasSettings: true}
	d, ad := newTestDispatcher(store, nil)

	d.handle(context.Background(), msg(1, "/watch"))
	if !strings.Contains(ad.last(), "no reference snapshot") {
		t.Fatalf("reply = %q", ad.last())
	}
}

func TestWatchWithoutCredentialsReportsError(t *testing.T) {
	store := &memStore{reference: &storage.ReferenceRecord{TargetURL: "u", CapturedAt: time.Now(), PNG: []byte{1}}}
	d, ad := newTestDispatcher(store, nil)

	d.handle(context.Background(), msg(1, "/watch"))
	if !strings.Contains(ad.last(), "Telegram settings not configured") {
		t.Fatalf("reply = %q", ad.last())
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	d, ad := newTestDispatcher(&memStore{}, nil)
	d.handle(context.Background(), msg(1, "/frobnicate"))
	if ad.count() != 0 {
		t.Fatalf("unknown command must be ignored")
	}
}

func TestHelpListsCommands(t *testing.T) {
	d, ad := newTestDispatcher(&memStore{}, nil)
	d.handle(context.Background(), msg(1, "/help"))
	reply := ad.last()
	for _, want := range []string{"/capture", "/watch", "/pause", "/status", "/settings", "/keywords"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("help missing %s: %q", want, reply)
		}
	}
}
