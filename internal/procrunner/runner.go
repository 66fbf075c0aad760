// Package procrunner launches external scan/analyzer tools in their
// own process group, enforces a wall-clock timeout, and captures
// stdout/stderr to memory.
//
// Implements the Process Runner component: run(argv, timeout) →
// (stdout, stderr, exit_code). Grounded on the process-group /
// timeout / kill semantics of the original scanner service's
// `_run_cmd` helper (start_new_session + os.killpg + SIGKILL fallback
// to direct kill on permission failure).
package procrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/abhiramgcos/soc-netscan/internal/metrics"
)

// Result is the outcome of one Process Runner invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run launches argv[0] with argv[1:] as arguments in a new process
// group. If the process does not exit within timeout, the whole
// group is sent SIGKILL; if that fails (e.g. permission denied) the
// immediate child is killed directly. On timeout, ExitCode is -1 and
// Stderr is "Command timed out after <n>s". Non-zero exit is not
// itself an error: callers inspect ExitCode and Stdout.
func Run(ctx context.Context, argv []string, timeout time.Duration) (Result, error) {
	return RunWithEnv(ctx, argv, nil, timeout)
}

// RunWithEnv behaves like Run but appends extraEnv ("KEY=value" pairs)
// to the child's inherited environment, for tools like the firmware
// analyzer that key scan depth off an environment variable
// (GPT_OPTION).
func RunWithEnv(ctx context.Context, argv []string, extraEnv []string, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("procrunner: empty argument vector")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	tool := filepath.Base(argv[0])

	if err := cmd.Start(); err != nil {
		metrics.ToolInvocationsTotal.WithLabelValues(tool, "start_failed").Inc()
		return Result{}, fmt.Errorf("procrunner: failed to start %s: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		exitCode := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else {
				metrics.ToolInvocationsTotal.WithLabelValues(tool, "wait_failed").Inc()
				return Result{}, fmt.Errorf("procrunner: wait failed for %s: %w", argv[0], err)
			}
		}
		outcome := "ok"
		if exitCode != 0 {
			outcome = "nonzero_exit"
		}
		metrics.ToolInvocationsTotal.WithLabelValues(tool, outcome).Inc()
		return Result{
			Stdout:   decodeLenient(stdout.Bytes()),
			Stderr:   decodeLenient(stderr.Bytes()),
			ExitCode: exitCode,
		}, nil

	case <-timer.C:
		killGroup(cmd)
		<-done // reap the process to avoid a zombie
		metrics.ToolInvocationsTotal.WithLabelValues(tool, "timeout").Inc()
		return Result{
			Stdout:   decodeLenient(stdout.Bytes()),
			Stderr:   fmt.Sprintf("Command timed out after %ds", int(timeout.Seconds())),
			ExitCode: -1,
		}, nil
	}
}

// killGroup sends SIGKILL to the process group. If that fails due to
// permission, it falls back to killing the immediate child only.
func killGroup(cmd *exec.Cmd) {
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err == nil {
		if killErr := syscall.Kill(-pgid, syscall.SIGKILL); killErr == nil {
			return
		}
	}
	_ = cmd.Process.Kill()
}

// decodeLenient returns s as a string, replacing invalid UTF-8
// sequences rather than failing (mirrors the source's lenient
// decode-with-replacement policy).
func decodeLenient(b []byte) string {
	return string(bytes.ToValidUTF8(b, []byte("�")))
}
