package bridge

import (
	"log/slog"
	"os/exec"
	"syscall"
)

// runHook launches command as a detached child process via /bin/sh -c,
// passing endpoint as its sole argument, and does not wait for it to
// exit. Used for the on-connect/on-disconnect side effects.
func runHook(command, endpoint string, log *slog.Logger) {
	if command == "" {
		return
	}
	cmd := exec.Command("/bin/sh", "-c", command, "--", endpoint)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		log.Warn("hook command failed to start", "command", command, "error", err)
		return
	}
	go func() {
		_ = cmd.Wait() // reap to avoid a zombie; result is not observed
	}()
}

// slogReporter is the default Reporter: it logs connect/disconnect events
// instead of forwarding them to a real audit subsystem (out of scope).
type slogReporter struct {
	log *slog.Logger
}

func NewSlogReporter(log *slog.Logger) Reporter {
	return &slogReporter{log: log}
}

func (r *slogReporter) ReportConnect(endpoint string) {
	r.log.Info("client connected", "endpoint", endpoint)
}

func (r *slogReporter) ReportDisconnect(endpoint string) {
	r.log.Info("client disconnected", "endpoint", endpoint)
}

var _ Reporter = (*slogReporter)(nil)
