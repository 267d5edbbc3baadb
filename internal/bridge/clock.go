package bridge

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

const (
	// clockSyncWait is the longest the startup sequence waits for the
	// system clock to synchronise before proceeding anyway.
	clockSyncWait = 60 * time.Second

	clockSyncPoll    = time.Second
	timedatectlLimit = 10 * time.Second
)

// WaitForClockSync polls timedatectl until the system clock reports
// synchronised, the wait period elapses, or ctx is cancelled. The
// repeater clock is set from system time right after, so publishing
// with a wrong clock stamps every record wrong.
//
// Always returns without error on systems where timedatectl is missing
// or failing; a bridge on a non-systemd host still has to run.
func WaitForClockSync(ctx context.Context, log Logger) {
	deadline := time.Now().Add(clockSyncWait)

	for time.Now().Before(deadline) {
		synced, ok := clockSynchronized(ctx)
		if !ok {
			if log != nil {
				log.Warn("cannot check clock sync, continuing without it")
			}
			return
		}
		if synced {
			return
		}

		if log != nil {
			log.Warn("system clock not yet synchronized, waiting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(clockSyncPoll):
		}
	}

	if log != nil {
		log.Warn("system clock never synchronized, continuing anyway")
	}
}

// clockSynchronized runs one timedatectl status check. The second
// return is false when the check itself cannot run.
func clockSynchronized(ctx context.Context) (synced, ok bool) {
	runCtx, cancel := context.WithTimeout(ctx, timedatectlLimit)
	defer cancel()

	out, err := exec.CommandContext(runCtx, "timedatectl", "status").Output()
	if err != nil {
		return false, false
	}
	return strings.Contains(string(out), "System clock synchronized: yes"), true
}
