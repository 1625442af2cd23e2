package scheduler

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// subprocessResult is what running one command produced.
type subprocessResult struct {
	Stdout   string
	Stderr   string
	TimedOut bool
	ExitCode int
	Signal   string
	Err      error
}

// exitInfo pulls the exit code and, if the process died from a signal
// rather than returning one, the signal name out of err. ExitCode is
// -1 when the process was signaled, matching os/exec.ExitCode's own
// convention, but Signal carries what that -1 otherwise discards.
func exitInfo(err error) (exitCode int, signal string) {
	if err == nil {
		return 0, ""
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, ""
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, ws.Signal().String()
	}
	return exitErr.ExitCode(), ""
}

// runSubprocess runs cmd in its own process group so a timeout can kill
// every descendant, not just the direct child (original_source's builder
// relies on the same POSIX process-group behavior). It takes no context:
// a cancellation request never kills an in-flight subprocess — per §4.G
// only new work is withheld.
func runSubprocess(cmd []string, timeout time.Duration) subprocessResult {
	if len(cmd) == 0 {
		return subprocessResult{Err: fmt.Errorf("scheduler: empty command")}
	}
	c := exec.Command(cmd[0], cmd[1:]...)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Start(); err != nil {
		return subprocessResult{Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	if timeout <= 0 {
		err := <-done
		code, sig := exitInfo(err)
		return subprocessResult{Stdout: stdout.String(), Stderr: stderr.String(), Err: err, ExitCode: code, Signal: sig}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		code, sig := exitInfo(err)
		return subprocessResult{Stdout: stdout.String(), Stderr: stderr.String(), Err: err, ExitCode: code, Signal: sig}
	case <-timer.C:
		_ = unix.Kill(-c.Process.Pid, unix.SIGKILL)
		<-done
		return subprocessResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			TimedOut: true,
			ExitCode: -1,
			Signal:   syscall.SIGKILL.String(),
			Err:      fmt.Errorf("scheduler: killed after exceeding %s timeout", timeout),
		}
	}
}
