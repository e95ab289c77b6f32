// Package systemd wraps service-manager readiness notifications. All
// calls are no-ops outside a systemd unit with Type=notify.
package systemd

import "github.com/coreos/go-systemd/v22/daemon"

// NotifyReady tells the service manager startup finished. Returns false
// when no notification socket is available.
func NotifyReady() bool {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	return err == nil && sent
}

// NotifyStopping tells the service manager shutdown began, so it can
// distinguish a clean stop from a crash during the stop timeout.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// NotifyStatus updates the free-form status line shown by systemctl.
func NotifyStatus(status string) {
	_, _ = daemon.SdNotify(false, "STATUS="+status)
}
