// Package control is the operator-facing Telegram command surface. It
// parses incoming messages into engine calls and renders the structured
// results back as chat replies.
package control

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"pagewatch/internal/monitor"
	"pagewatch/internal/storage"
	kit "pagewatch/internal/transport"
	logx "pagewatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Request struct {
	Msg  kit.Message
	Chat kit.ChatTarget
	Args []string
}

type Handler func(ctx context.Context, req *Request) (string, error)

type command struct {
	name        string
	description string
	usage       string
	access      Access
	timeout     time.Duration
	handle      Handler
}

// Dispatcher routes operator commands to the monitor engine.
type Dispatcher struct {
	engine  *monitor.Engine
	store   storage.Store
	adapter kit.Adapter
	log     logx.Logger
	owners  []int64

	ownerMu sync.Mutex

	cmds  map[string]*command
	order []string
}

func New(engine *monitor.Engine, store storage.Store, adapter kit.Adapter, owners []int64, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		engine:  engine,
		store:   store,
		adapter: adapter,
		owners:  owners,
		log:     log,
		cmds:    map[string]*command{},
	}
	d.registerAll()
	return d
}

func (d *Dispatcher) register(c *command) {
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	d.cmds[c.name] = c
	d.order = append(d.order, c.name)
}

// Run consumes inbound messages until ctx is done or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, in <-chan kit.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, okc := <-in:
			if !okc {
				return
			}
			d.handle(ctx, msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg kit.Message) {
	name, args, okp := parseCommand(msg.Text)
	if !okp {
		return
	}
	cmd, found := d.cmds[name]
	if !found {
		return
	}
	if cmd.access == AccessOwnerOnly && !d.isOwner(msg.FromID) {
		d.log.Warn("command rejected",
			logx.String("command", name),
			logx.Int64("from", msg.FromID))
		return
	}

	req := &Request{Msg: msg, Chat: kit.ChatTarget{ChatID: msg.ChatID}, Args: args}
	cctx, cancel := context.WithTimeout(ctx, cmd.timeout)
	defer cancel()

	reply, err := d.invoke(cctx, cmd, req)
	if err != nil {
		d.log.Warn("command failed", logx.String("command", name), logx.Err(err))
		reply = "⚠️ " + err.Error()
	}
	if reply == "" {
		return
	}
	if _, serr := d.adapter.SendText(cctx, req.Chat, reply, &kit.SendOptions{DisablePreview: true}); serr != nil {
		d.log.Warn("reply failed", logx.String("command", name), logx.Err(serr))
	}
}

func (d *Dispatcher) invoke(ctx context.Context, cmd *command, req *Request) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("command panicked",
				logx.String("command", cmd.name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("internal error")
		}
	}()
	return cmd.handle(ctx, req)
}

// SetOwners replaces the owner allow-list (config hot reload).
func (d *Dispatcher) SetOwners(owners []int64) {
	d.ownerMu.Lock()
	d.owners = append([]int64(nil), owners...)
	d.ownerMu.Unlock()
}

func (d *Dispatcher) isOwner(userID int64) bool {
	d.ownerMu.Lock()
	defer d.ownerMu.Unlock()
	if len(d.owners) == 0 {
		return true
	}
	for _, id := range d.owners {
		if id == userID {
			return true
		}
	}
	return false
}

// parseCommand splits "/watch now" into ("watch", ["now"]). The @botname
// suffix Telegram appends in groups is stripped.
func parseCommand(text string) (name string, args []string, okp bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	name = strings.ToLower(fields[0])
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return name, fields[1:], true
}
