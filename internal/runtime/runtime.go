// Package runtime is the boundary to the external sandbox CLI (dock-route).
// Every sandbox operation — deploy, list, start, stop, exec, remove — goes
// through a single Invoker so the binary path is injected configuration,
// never process-global state, and so tests can substitute a fake.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	// maxOutputBytes caps stdout/stderr to prevent OOM from chatty commands.
	maxOutputBytes = 1 << 20 // 1 MB

	// DefaultListTimeout bounds the `list containers` invocation.
	DefaultListTimeout = 30 * time.Second

	// DefaultControlTimeout bounds start/stop/restart/remove invocations.
	DefaultControlTimeout = 60 * time.Second
)

// ErrTimeout reports that an invocation exceeded its wall-clock budget.
var ErrTimeout = errors.New("runtime invocation timed out")

// ErrNotFound reports that the named sandbox does not exist.
var ErrNotFound = errors.New("sandbox not found")

// Result is the raw outcome of one CLI invocation.
// A non-zero exit code is a result, not an error.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Invoker runs the external sandbox CLI with an argv list.
// Implementations return an error only for invoker-internal faults
// (binary missing, timeout); command failure is reported via ExitCode.
type Invoker interface {
	Invoke(ctx context.Context, timeout time.Duration, args ...string) (*Result, error)
}

// CLI invokes a fixed external binary. The zero value is not usable;
// construct with NewCLI.
type CLI struct {
	binary string
	logger *slog.Logger
}

// NewCLI creates an Invoker for the given binary path (e.g. "dock-route").
func NewCLI(binary string, logger *slog.Logger) *CLI {
	return &CLI{binary: binary, logger: logger}
}

// Invoke runs the binary with the given argv list, enforcing the timeout.
func (c *CLI) Invoke(ctx context.Context, timeout time.Duration, args ...string) (*Result, error) {
	if c.binary == "" {
		return nil, fmt.Errorf("runtime binary path is empty")
	}
	if timeout <= 0 {
		timeout = DefaultControlTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	c.logger.Debug("runtime invoking",
		slog.String("binary", c.binary),
		slog.Any("args", args),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if ctx.Err() != nil {
			c.logger.Warn("runtime invocation timed out",
				slog.Any("args", args),
				slog.Duration("timeout", timeout),
			)
			return nil, fmt.Errorf("%w after %s: %s %s", ErrTimeout, timeout, c.binary, strings.Join(args, " "))
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("invoking %s: %w", c.binary, runErr)
		}
	}

	c.logger.Debug("runtime invocation completed",
		slog.Any("args", args),
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", duration),
	)

	return &Result{
		Stdout:   sanitize(stdoutBuf.String()),
		Stderr:   sanitize(stderrBuf.String()),
		ExitCode: exitCode,
	}, nil
}

// sanitize replaces undecodable bytes instead of failing the call —
// package installers are known to emit non-UTF-8 progress output.
func sanitize(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded (not an error — just capped).
type limitedWriter struct {
	w         *bytes.Buffer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil // Silently discard.
	}
	kept := p
	if len(kept) > lw.remaining {
		kept = kept[:lw.remaining]
	}
	n, err := lw.w.Write(kept)
	lw.remaining -= n
	if err != nil {
		return n, err
	}
	// Report the full chunk as consumed even when it straddled the cap,
	// otherwise io.Copy treats the truncation as a short write and the
	// whole command fails instead of just losing tail output.
	return len(p), nil
}
