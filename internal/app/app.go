// Package app wires the daemon together: config, logging, storage,
// capture, the monitor engine, notification pipeline, Telegram control
// surface, and the daily summary.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"pagewatch/internal/capture"
	"pagewatch/internal/config"
	"pagewatch/internal/control"
	"pagewatch/internal/differ"
	"pagewatch/internal/eventbus"
	"pagewatch/internal/monitor"
	"pagewatch/internal/notifier"
	"pagewatch/internal/notifier/local"
	rtsup "pagewatch/internal/runtime/supervisor"
	"pagewatch/internal/services/summary"
	"pagewatch/internal/storage"
	kit "pagewatch/internal/transport"
	telegram "pagewatch/internal/transport/telegram"
	logx "pagewatch/pkg/logx"
)

type StopReason string

const (
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal-error"
	StopAppStop    StopReason = "app-stop"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	cap     capture.Adapter
	adapter *telegram.Adapter
	mirror  *chatMirror

	engine *monitor.Engine
	notif  *notifier.Service
	locals *local.Notifier
	disp   *control.Dispatcher
	digest *summary.Service

	messages chan kit.Message
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the mirror disabled so Apply() inside logx.New can't
	// try to send before the sink target is wired.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Mirror.Enabled = false
	logSvc, log := logx.New(baseLogCfg)
	log = log.With(logx.String("comp", "app"))

	mirror := &chatMirror{adapter: ad}
	mirror.chatID.Store(cfg.Telegram.AlertChatID)
	logSvc.SetMirror(mirror)
	logSvc.Apply(mapLogConfig(cfg))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	capCfg, err := mapCaptureConfig(cfg)
	if err != nil {
		return nil, err
	}
	capAdapter := capture.NewRenderer(capCfg, log.With(logx.String("comp", "capture")))

	diff := differ.Select(cfg.Monitor.Strategy, cfg.Monitor.ChangeThreshold)
	engine := monitor.NewEngine(store, capAdapter, diff, mapMonitorDefaults(cfg), log.With(logx.String("comp", "monitor")))
	engine.SetBus(bus)
	engine.SetLocalSink(local.New(log.With(logx.String("comp", "local-notify"))))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus)
	engine.SetAlertSink(notifSvc)

	disp := control.New(engine, store, ad, cfg.Telegram.OwnerUserIDs, log.With(logx.String("comp", "control")))

	app := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		cap:      capAdapter,
		adapter:  ad,
		mirror:   mirror,
		engine:   engine,
		notif:    notifSvc,
		locals:   local.New(log.With(logx.String("comp", "local-notify"))),
		disp:     disp,
		messages: make(chan kit.Message, 256),
	}
	app.digest = summary.New(mapSummaryConfig(cfg), ad, bus, app.summaryTarget, log.With(logx.String("comp", "summary")))
	return app, nil
}

// Done is closed when the run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapCaptureConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.seedSettings(a.sup.Context()); err != nil {
		a.log.Warn("settings seed failed", logx.Err(err))
	}

	if err := a.adapter.Start(a.sup.Context(), a.messages); err != nil {
		return err
	}

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if err := a.digest.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.engine.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go0("control.dispatch", func(c context.Context) {
		a.disp.Run(c, a.messages)
	})

	a.startReloadLoop()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) seedSettings(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	_, found, err := a.store.Settings(ctx)
	if err != nil || found {
		return err
	}
	cfg := a.cfgm.Get()
	if cfg == nil || cfg.Telegram.Token == "" || cfg.Telegram.AlertChatID == 0 {
		return nil
	}
	rec := storage.SettingsRecord{
		BotToken: cfg.Telegram.Token,
		ChatID:   strconv.FormatInt(cfg.Telegram.AlertChatID, 10),
	}
	if err := a.store.PutSettings(ctx, rec); err != nil {
		return err
	}
	a.log.Info("notification settings seeded from config")
	return nil
}

// summaryTarget resolves the digest destination from the stored settings,
// falling back to the configured alert chat.
func (a *App) summaryTarget(ctx context.Context) (kit.ChatTarget, error) {
	if a.store != nil {
		if s, found, err := a.store.Settings(ctx); err == nil && found && strings.TrimSpace(s.ChatID) != "" {
			if id, perr := strconv.ParseInt(strings.TrimSpace(s.ChatID), 10, 64); perr == nil {
				return kit.ChatTarget{ChatID: id}, nil
			}
		}
	}
	if cfg := a.cfgm.Get(); cfg != nil && cfg.Telegram.AlertChatID != 0 {
		return kit.ChatTarget{ChatID: cfg.Telegram.AlertChatID}, nil
	}
	return kit.ChatTarget{}, fmt.Errorf("no summary chat configured")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("name", name))
		}
	}

	step("engine", time.Second, func(context.Context) error { a.engine.Stop(); return nil })
	step("summary", time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Mirror: logx.MirrorConfig{
			Enabled:    cfg.Logging.Mirror.Enabled,
			MinLevel:   cfg.Logging.Mirror.MinLevel,
			RatePerSec: cfg.Logging.Mirror.RatePerSec,
		},
	}
}

// chatMirror forwards high-severity log lines to the operator chat.
type chatMirror struct {
	adapter kit.Adapter
	chatID  atomic.Int64
}

func (m *chatMirror) MirrorLine(_ logx.Level, line string) {
	id := m.chatID.Load()
	if id == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = m.adapter.SendText(ctx, kit.ChatTarget{ChatID: id}, line, &kit.SendOptions{DisablePreview: true})
}
