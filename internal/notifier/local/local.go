// Package local surfaces change alerts on the host the watcher runs on,
// independently of Telegram delivery. Under systemd the alert lands in
// the journal with an elevated priority; elsewhere it goes to stderr.
package local

import (
	"fmt"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"

	logx "pagewatch/pkg/logx"
)

type Notifier struct {
	log     logx.Logger
	journal bool
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{log: log}
	if ok, err := journal.StderrIsJournalStream(); err == nil && ok {
		n.journal = true
	} else if journal.Enabled() {
		n.journal = true
	}
	return n
}

// Alert emits one local notification line. Best-effort: errors are logged
// and swallowed.
func (n *Notifier) Alert(title, body string) {
	line := title
	if body != "" {
		line += ": " + strings.ReplaceAll(body, "\n", " | ")
	}
	if n.journal {
		err := journal.Send(line, journal.PriNotice, map[string]string{
			"PAGEWATCH_EVENT": "change",
		})
		if err == nil {
			return
		}
		n.log.Debug("journal send failed", logx.Err(err))
	}
	fmt.Fprintf(os.Stderr, "[pagewatch] %s\n", line)
}
