package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pagewatch/internal/monitor"
	"pagewatch/internal/storage"
)

func (d *Dispatcher) registerAll() {
	d.register(&command{
		name:        "capture",
		description: "Capture a new reference snapshot of the watched page",
		access:      AccessOwnerOnly,
		timeout:     90 * time.Second,
		handle:      d.cmdCapture,
	})
	d.register(&command{
		name:        "watch",
		description: "Start monitoring against the captured reference",
		access:      AccessOwnerOnly,
		handle:      d.cmdWatch,
	})
	d.register(&command{
		name:        "pause",
		description: "Stop monitoring (the reference is kept)",
		access:      AccessOwnerOnly,
		handle:      d.cmdPause,
	})
	d.register(&command{
		name:        "status",
		description: "Show monitoring state and last check time",
		handle:      d.cmdStatus,
	})
	d.register(&command{
		name:        "settings",
		description: "Store alert credentials",
		usage:       "/settings <bot_token> <chat_id>",
		access:      AccessOwnerOnly,
		handle:      d.cmdSettings,
	})
	d.register(&command{
		name:        "keywords",
		description: "Show or replace the key-phrase list",
		usage:       "/keywords [phrase; phrase; ...] | clear",
		access:      AccessOwnerOnly,
		handle:      d.cmdKeywords,
	})
	d.register(&command{
		name:        "help",
		description: "List available commands",
		handle:      d.cmdHelp,
	})
	// Telegram sends /start on first contact.
	d.register(&command{name: "start", description: "Alias for /help", handle: d.cmdHelp})
}

func (d *Dispatcher) cmdCapture(ctx context.Context, _ *Request) (string, error) {
	res := d.engine.CaptureReference(ctx)
	if !res.Success {
		return "", errors.New(res.Error)
	}
	info, okc := res.Data.(monitor.ReferenceInfo)
	if !okc {
		return "✅ Reference captured.", nil
	}
	return fmt.Sprintf("✅ Reference captured.\ntarget: %s\ntaken: %s\nsize: %d bytes\nkey phrases: %d",
		info.TargetURL, info.CapturedAt.Format(time.RFC3339), info.PNGBytes, info.KeyPhrases), nil
}

func (d *Dispatcher) cmdWatch(ctx context.Context, _ *Request) (string, error) {
	res := d.engine.StartMonitoring(ctx)
	if !res.Success {
		return "", errors.New(res.Error)
	}
	st, okc := res.Data.(monitor.Status)
	if !okc {
		return "▶️ Monitoring started.", nil
	}
	reply := fmt.Sprintf("▶️ Monitoring started.\ninterval: %d-%ds (jittered)",
		st.Monitoring.IntervalMinSeconds, st.Monitoring.IntervalMaxSeconds)
	if st.NextCheckAt != nil {
		reply += "\nfirst check: " + st.NextCheckAt.Format(time.RFC3339)
	}
	return reply, nil
}

func (d *Dispatcher) cmdPause(ctx context.Context, _ *Request) (string, error) {
	res := d.engine.StopMonitoring(ctx)
	if !res.Success {
		return "", errors.New(res.Error)
	}
	return "⏸ Monitoring stopped.", nil
}

func (d *Dispatcher) cmdStatus(ctx context.Context, _ *Request) (string, error) {
	res := d.engine.GetStatus(ctx)
	if !res.Success {
		return "", errors.New(res.Error)
	}
	st, okc := res.Data.(monitor.Status)
	if !okc {
		return "status unavailable", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "state: %s\nstrategy: %s\n", st.State, st.Strategy)
	if st.TargetURL != "" {
		fmt.Fprintf(&b, "target: %s\n", st.TargetURL)
	}
	if st.ReferenceCapturedAt != nil {
		fmt.Fprintf(&b, "reference: %s\n", st.ReferenceCapturedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "interval: %d-%ds auto_refresh: %v\n",
		st.Monitoring.IntervalMinSeconds, st.Monitoring.IntervalMaxSeconds, st.Monitoring.AutoRefresh)
	if st.Monitoring.LastCheckAt != nil {
		fmt.Fprintf(&b, "last check: %s\n", st.Monitoring.LastCheckAt.Format(time.RFC3339))
	} else {
		b.WriteString("last check: never\n")
	}
	if st.NextCheckAt != nil {
		fmt.Fprintf(&b, "next check: %s\n", st.NextCheckAt.Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Dispatcher) cmdSettings(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) < 2 {
		return "usage: /settings <bot_token> <chat_id>", nil
	}
	var current storage.SettingsRecord
	if d.store != nil {
		if s, found, err := d.store.Settings(ctx); err == nil && found {
			current = s
		}
	}
	current.BotToken = req.Args[0]
	current.ChatID = req.Args[1]
	res := d.engine.SaveSettings(ctx, current)
	if !res.Success {
		return "", errors.New(res.Error)
	}
	return "✅ Settings saved.", nil
}

func (d *Dispatcher) cmdKeywords(ctx context.Context, req *Request) (string, error) {
	if d.store == nil {
		return "", storage.ErrDisabled
	}
	current, _, err := d.store.Settings(ctx)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}

	if len(req.Args) == 0 {
		if len(current.Keywords) == 0 {
			return "no key phrases set", nil
		}
		return "key phrases:\n- " + strings.Join(current.Keywords, "\n- "), nil
	}

	if len(req.Args) == 1 && strings.EqualFold(req.Args[0], "clear") {
		current.Keywords = nil
	} else {
		// Phrases are semicolon-separated so they can contain spaces.
		var phrases []string
		for _, p := range strings.Split(strings.Join(req.Args, " "), ";") {
			if p = strings.TrimSpace(p); p != "" {
				phrases = append(phrases, p)
			}
		}
		current.Keywords = phrases
	}

	res := d.engine.SaveSettings(ctx, current)
	if !res.Success {
		return "", errors.New(res.Error)
	}
	return fmt.Sprintf("✅ %d key phrase(s) stored. They apply from the next /capture.", len(current.Keywords)), nil
}

func (d *Dispatcher) cmdHelp(_ context.Context, _ *Request) (string, error) {
	var b strings.Builder
	b.WriteString("pagewatch commands:\n")
	for _, name := range d.order {
		cmd := d.cmds[name]
		if cmd.name == "start" {
			continue
		}
		fmt.Fprintf(&b, "/%s - %s\n", cmd.name, cmd.description)
		if cmd.usage != "" {
			fmt.Fprintf(&b, "    %s\n", cmd.usage)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
