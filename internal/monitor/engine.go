// Package monitor is the core state machine: reference capture, jittered
// scheduled re-checks, change detection, and alert dispatch. The engine
// itself is stateless: every transition commits to the store before
// returning, so a restart resumes correctly at worst by re-running one
// stale check.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"pagewatch/internal/capture"
	"pagewatch/internal/differ"
	"pagewatch/internal/eventbus"
	"pagewatch/internal/notifier"
	"pagewatch/internal/storage"
	logx "pagewatch/pkg/logx"
)

// AlertSink is the primary (chat) notification path.
type AlertSink interface {
	Notify(ctx context.Context, a notifier.Alert) error
}

// LocalSink is the secondary host-local notification path. Best-effort.
type LocalSink interface {
	Alert(title, body string)
}

// Engine orchestrates the monitoring lifecycle. Safe for concurrent use;
// check cycles are serialized by the single timer slot plus cycleMu.
type Engine struct {
	store  storage.Store
	cap    capture.Adapter
	alerts AlertSink
	local  LocalSink
	bus    eventbus.Bus
	log    logx.Logger

	mu       sync.Mutex
	diff     differ.Differ
	defs     Defaults
	snapshot []byte // most recent capture, attached to alerts

	cycleMu sync.Mutex
	slot    *slot

	runCtx context.Context
	cancel context.CancelFunc
}

func NewEngine(store storage.Store, cap capture.Adapter, diff differ.Differ, defs Defaults, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if diff == nil {
		diff = differ.Select("", 0)
	}
	return &Engine{
		store: store,
		cap:   cap,
		diff:  diff,
		defs:  defs.normalized(),
		log:   log,
		slot:  newSlot(),
	}
}

func (e *Engine) SetAlertSink(s AlertSink)  { e.mu.Lock(); e.alerts = s; e.mu.Unlock() }
func (e *Engine) SetLocalSink(s LocalSink)  { e.mu.Lock(); e.local = s; e.mu.Unlock() }
func (e *Engine) SetBus(b eventbus.Bus)     { e.mu.Lock(); e.bus = b; e.mu.Unlock() }
func (e *Engine) SetDiffer(d differ.Differ) { e.mu.Lock(); e.diff = d; e.mu.Unlock() }

// SetDefaults applies hot-reloaded monitor config. The persisted record
// keeps its own tunables; new defaults only affect the next fresh start.
func (e *Engine) SetDefaults(defs Defaults) {
	e.mu.Lock()
	e.defs = defs.normalized()
	e.mu.Unlock()
}

// Start binds the engine's background context and resumes monitoring if
// the persisted record says it was active before the last shutdown.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.runCtx != nil {
		e.mu.Unlock()
		return nil
	}
	e.runCtx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	if e.store == nil {
		return nil
	}
	rec, found, err := e.store.Monitoring(ctx)
	if err != nil {
		return fmt.Errorf("load monitoring record: %w", err)
	}
	if found && rec.Active {
		d := e.slot.drawInterval(rec.IntervalMinSeconds, rec.IntervalMaxSeconds)
		next := e.arm(d)
		e.log.Info("monitoring resumed",
			logx.Duration("interval", d),
			logx.Time("next_check", next))
	}
	return nil
}

// Stop disarms the scheduler and cancels any in-flight cycle's context.
func (e *Engine) Stop() {
	e.slot.disarm()
	e.mu.Lock()
	cancel := e.cancel
	e.runCtx, e.cancel = nil, nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CaptureReference takes a fresh baseline snapshot, overwriting any prior
// one, and moves the engine out of Idle.
func (e *Engine) CaptureReference(ctx context.Context) Result {
	if e.store == nil {
		return fail(storage.ErrDisabled)
	}
	target, err := e.cap.Resolve(ctx)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrCaptureUnavailable, err))
	}
	sample, err := e.cap.Capture(ctx, target)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrCaptureFailed, err))
	}

	var keywords []string
	if settings, found, serr := e.store.Settings(ctx); serr == nil && found {
		keywords = settings.Keywords
	}

	rec := &storage.ReferenceRecord{
		TargetURL:  target.URL,
		CapturedAt: sample.TakenAt,
		PNG:        sample.PNG,
		KeyPhrases: keywords,
	}
	if err := e.store.PutReference(ctx, rec); err != nil {
		return fail(fmt.Errorf("persist reference: %w", err))
	}
	e.log.Info("reference captured",
		logx.String("target", target.URL),
		logx.Int("bytes", len(sample.PNG)),
		logx.Int("keywords", len(keywords)))
	return ok(ReferenceInfo{
		TargetURL:  rec.TargetURL,
		CapturedAt: rec.CapturedAt,
		PNGBytes:   len(rec.PNG),
		KeyPhrases: len(rec.KeyPhrases),
	})
}

// StartMonitoring flips the persisted record active and arms the first
// jittered check. Requires a captured reference and stored credentials.
func (e *Engine) StartMonitoring(ctx context.Context) Result {
	if e.store == nil {
		return fail(storage.ErrDisabled)
	}
	ref, err := e.store.Reference(ctx)
	if err != nil {
		return fail(fmt.Errorf("load reference: %w", err))
	}
	if ref == nil {
		return fail(ErrNoReference)
	}
	settings, found, err := e.store.Settings(ctx)
	if err != nil {
		return fail(fmt.Errorf("load settings: %w", err))
	}
	if !found || strings.TrimSpace(settings.BotToken) == "" || strings.TrimSpace(settings.ChatID) == "" {
		return fail(ErrNotConfigured)
	}

	rec, foundRec, err := e.store.Monitoring(ctx)
	if err != nil {
		return fail(fmt.Errorf("load monitoring record: %w", err))
	}
	if !foundRec {
		rec = e.freshRecord()
	}
	if rec.IntervalMinSeconds <= 0 || rec.IntervalMaxSeconds < rec.IntervalMinSeconds {
		defs := e.defaults()
		rec.IntervalMinSeconds = defs.IntervalMinSeconds
		rec.IntervalMaxSeconds = defs.IntervalMaxSeconds
	}
	rec.Active = true
	if err := e.store.PutMonitoring(ctx, rec); err != nil {
		return fail(fmt.Errorf("persist monitoring record: %w", err))
	}

	d := e.slot.drawInterval(rec.IntervalMinSeconds, rec.IntervalMaxSeconds)
	next := e.arm(d)
	e.log.Info("monitoring started",
		logx.Int("interval_min_s", rec.IntervalMinSeconds),
		logx.Int("interval_max_s", rec.IntervalMaxSeconds),
		logx.Duration("first_interval", d))
	return ok(Status{
		State:       StateActive,
		TargetURL:   ref.TargetURL,
		Strategy:    e.strategyName(),
		Monitoring:  rec,
		NextCheckAt: &next,
	})
}

// StopMonitoring disarms the scheduler and persists isActive=false.
// Idempotent: stopping an already-stopped engine succeeds.
func (e *Engine) StopMonitoring(ctx context.Context) Result {
	e.slot.disarm()
	if e.store == nil {
		return fail(storage.ErrDisabled)
	}
	rec, found, err := e.store.Monitoring(ctx)
	if err != nil {
		return fail(fmt.Errorf("load monitoring record: %w", err))
	}
	if !found {
		return ok(nil)
	}
	if rec.Active {
		rec.Active = false
		if err := e.store.PutMonitoring(ctx, rec); err != nil {
			return fail(fmt.Errorf("persist monitoring record: %w", err))
		}
		e.log.Info("monitoring stopped")
	}
	return ok(nil)
}

// GetStatus derives the current state from the store. Read-only.
func (e *Engine) GetStatus(ctx context.Context) Result {
	if e.store == nil {
		return fail(storage.ErrDisabled)
	}
	ref, err := e.store.Reference(ctx)
	if err != nil {
		return fail(fmt.Errorf("load reference: %w", err))
	}
	rec, found, err := e.store.Monitoring(ctx)
	if err != nil {
		return fail(fmt.Errorf("load monitoring record: %w", err))
	}
	if !found {
		rec = e.freshRecord()
		rec.Active = false
	}

	st := Status{
		State:      StateIdle,
		Strategy:   e.strategyName(),
		Monitoring: rec,
	}
	if ref != nil {
		st.State = StateArmed
		st.TargetURL = ref.TargetURL
		at := ref.CapturedAt
		st.ReferenceCapturedAt = &at
	}
	if rec.Active {
		st.State = StateActive
		if next, armed := e.slot.next(); armed {
			st.NextCheckAt = &next
		}
	}
	return ok(st)
}

// SaveSettings stores operator credentials and keywords verbatim. Nothing
// is validated beyond trimming; only non-emptiness ever matters later.
func (e *Engine) SaveSettings(ctx context.Context, settings storage.SettingsRecord) Result {
	if e.store == nil {
		return fail(storage.ErrDisabled)
	}
	settings.BotToken = strings.TrimSpace(settings.BotToken)
	settings.ChatID = strings.TrimSpace(settings.ChatID)
	cleaned := settings.Keywords[:0:0]
	for _, k := range settings.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	settings.Keywords = cleaned
	if err := e.store.PutSettings(ctx, settings); err != nil {
		return fail(fmt.Errorf("persist settings: %w", err))
	}
	e.log.Info("settings saved",
		logx.Bool("token_set", settings.BotToken != ""),
		logx.Bool("chat_set", settings.ChatID != ""),
		logx.Int("keywords", len(settings.Keywords)))
	return ok(nil)
}

func (e *Engine) freshRecord() storage.MonitoringRecord {
	defs := e.defaults()
	return storage.MonitoringRecord{
		IntervalMinSeconds:   defs.IntervalMinSeconds,
		IntervalMaxSeconds:   defs.IntervalMaxSeconds,
		AutoRefresh:          defs.AutoRefresh,
		RefreshSettleDelayMS: defs.RefreshSettleDelayMS,
	}
}

func (e *Engine) defaults() Defaults {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.defs
}

func (e *Engine) differ() differ.Differ {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.diff
}

func (e *Engine) strategyName() string {
	if d := e.differ(); d != nil {
		return d.Name()
	}
	return ""
}

func (e *Engine) sinks() (AlertSink, LocalSink, eventbus.Bus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alerts, e.local, e.bus
}

// arm schedules the next cycle against the engine's run context.
func (e *Engine) arm(d time.Duration) time.Time {
	return e.slot.arm(d, func() {
		e.mu.Lock()
		ctx := e.runCtx
		e.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		e.CheckCycle(ctx)
	})
}

func chatIDFromSettings(s storage.SettingsRecord) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s.ChatID), 10, 64)
	if err != nil {
		return 0, errors.New("chat id is not numeric")
	}
	return id, nil
}
