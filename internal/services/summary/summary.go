// Package summary sends the operator a daily digest of check activity:
// how many cycles ran, how many changes fired, how alert delivery went.
// It observes the event bus and owns no monitoring state.
package summary

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pagewatch/internal/eventbus"
	"pagewatch/internal/monitor"
	rtsup "pagewatch/internal/runtime/supervisor"
	kit "pagewatch/internal/transport"
	logx "pagewatch/pkg/logx"
)

type Config struct {
	Enabled  bool
	Cron     string // five-field cron spec; default "0 9 * * *"
	Timezone string // IANA name; default local
}

// TargetFunc resolves the digest destination at send time, so credential
// changes made after startup are picked up.
type TargetFunc func(ctx context.Context) (kit.ChatTarget, error)

type counters struct {
	checks   int
	failures int
	changes  int
	maxMag   float64
	sent     int
	failed   int
	deduped  int
	since    time.Time
}

type Service struct {
	cfg     Config
	adapter kit.Adapter
	bus     eventbus.Bus
	target  TargetFunc
	log     logx.Logger

	mu  sync.Mutex
	cnt counters

	c     *cron.Cron
	sup   *rtsup.Supervisor
	unsub func()
}

func New(cfg Config, adapter kit.Adapter, bus eventbus.Bus, target TargetFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Cron == "" {
		cfg.Cron = "0 9 * * *"
	}
	return &Service{
		cfg:     cfg,
		adapter: adapter,
		bus:     bus,
		target:  target,
		log:     log,
		cnt:     counters{since: time.Now()},
	}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled || s.bus == nil {
		return nil
	}

	loc := time.Local
	if s.cfg.Timezone != "" {
		l, err := time.LoadLocation(s.cfg.Timezone)
		if err != nil {
			return fmt.Errorf("summary timezone: %w", err)
		}
		loc = l
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	if _, err := s.c.AddFunc(s.cfg.Cron, func() { s.emit(ctx) }); err != nil {
		return fmt.Errorf("summary cron spec %q: %w", s.cfg.Cron, err)
	}

	events, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "summary"))))
	s.sup.Go0("summary.collect", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case ev, okc := <-events:
				if !okc {
					return
				}
				s.observe(ev)
			}
		}
	})
	s.c.Start()
	s.log.Info("daily summary scheduled", logx.String("cron", s.cfg.Cron), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.c != nil {
		stopCtx := s.c.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	if s.unsub != nil {
		s.unsub()
	}
	if s.sup != nil {
		s.sup.Cancel()
		_ = s.sup.Wait(ctx)
	}
}

func (s *Service) observe(ev eventbus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case eventbus.TypeCheckFinished:
		s.cnt.checks++
		if ce, okc := ev.Data.(monitor.CheckEvent); okc && ce.Error != "" {
			s.cnt.failures++
		}
	case eventbus.TypeChangeFound:
		s.cnt.changes++
		if ce, okc := ev.Data.(monitor.CheckEvent); okc && ce.Magnitude > s.cnt.maxMag {
			s.cnt.maxMag = ce.Magnitude
		}
	case eventbus.TypeAlertSent:
		s.cnt.sent++
	case eventbus.TypeAlertFailed:
		s.cnt.failed++
	case eventbus.TypeAlertDeduped:
		s.cnt.deduped++
	}
}

// emit sends the digest and resets the window.
func (s *Service) emit(ctx context.Context) {
	s.mu.Lock()
	cnt := s.cnt
	s.cnt = counters{since: time.Now()}
	s.mu.Unlock()

	to, err := s.target(ctx)
	if err != nil {
		s.log.Warn("summary skipped", logx.Err(err))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := s.adapter.SendText(sendCtx, to, format(cnt), &kit.SendOptions{DisablePreview: true}); err != nil {
		s.log.Warn("summary send failed", logx.Err(err))
	}
}

func format(cnt counters) string {
	var b strings.Builder
	b.WriteString("📋 Daily watch summary\n")
	fmt.Fprintf(&b, "since: %s\n", cnt.since.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "checks: %d (%d failed)\n", cnt.checks, cnt.failures)
	fmt.Fprintf(&b, "changes: %d", cnt.changes)
	if cnt.changes > 0 {
		fmt.Fprintf(&b, " (max magnitude %.2f%%)", cnt.maxMag)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "alerts: %d sent, %d failed, %d suppressed", cnt.sent, cnt.failed, cnt.deduped)
	return b.String()
}
