package app

import (
	"context"
	"time"

	"pagewatch/internal/config"
	"pagewatch/internal/differ"
	logx "pagewatch/pkg/logx"
)

// startReloadLoop applies validated config changes to live components.
// Storage and summary schedule changes need a restart and only warn.
func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, okc := <-sub:
				if !okc {
					return
				}
				// Coalesce bursts: only the latest config matters.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, last, cfg)
				last = cfg
			}
		}
	})
}

func (a *App) applyReload(ctx context.Context, prev, cfg *config.Config) {
	if cfg == nil {
		return
	}

	a.mirror.chatID.Store(cfg.Telegram.AlertChatID)
	a.logs.Apply(mapLogConfig(cfg))
	a.disp.SetOwners(cfg.Telegram.OwnerUserIDs)

	if prev != nil && prev.Storage != cfg.Storage {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if prev != nil && prev.Summary != cfg.Summary {
		a.log.Warn("summary config changed; restart required for changes to take effect")
	}

	// Monitor tunables: new defaults seed the next fresh start; the
	// target and strategy apply immediately.
	a.engine.SetDefaults(mapMonitorDefaults(cfg))
	if prev == nil || prev.Monitor.Strategy != cfg.Monitor.Strategy || prev.Monitor.ChangeThreshold != cfg.Monitor.ChangeThreshold {
		a.engine.SetDiffer(differ.Select(cfg.Monitor.Strategy, cfg.Monitor.ChangeThreshold))
	}
	if prev == nil || prev.Monitor.TargetURL != cfg.Monitor.TargetURL {
		if rt, okc := a.cap.(interface{ SetTarget(string) }); okc {
			rt.SetTarget(cfg.Monitor.TargetURL)
		}
	}

	if ncfg, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		if wasEnabled && !ncfg.Enabled {
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		} else if !wasEnabled && ncfg.Enabled {
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	a.log.Info("config reloaded")
}
