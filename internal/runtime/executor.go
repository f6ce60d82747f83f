package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const (
	// DefaultHostTimeout bounds host-scoped shell commands.
	DefaultHostTimeout = 30 * time.Second

	// DefaultContainerTimeout bounds in-container commands. Long enough
	// to tolerate package installs.
	DefaultContainerTimeout = 5 * time.Minute

	// defaultReadinessAge is the uptime below which a container is
	// considered freshly started. Freshly-started containers are observed
	// to reject commands despite reporting "running".
	defaultReadinessAge = 30 * time.Second

	// defaultGraceSleep is the one-shot delay applied before executing
	// against a freshly-started container. Not a retry loop: worst-case
	// added latency per call is exactly one grace window.
	defaultGraceSleep = 5 * time.Second
)

// ExecutorConfig configures command execution budgets and readiness gating.
type ExecutorConfig struct {
	HostTimeout      time.Duration // Zero = DefaultHostTimeout.
	ContainerTimeout time.Duration // Zero = DefaultContainerTimeout.
	ReadinessAge     time.Duration // Zero = 30s.
	GraceSleep       time.Duration // Zero = 5s.
}

// CommandResult is the outcome of one host or container command.
// Command failure is a result, never a raised error.
type CommandResult struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int

	// Status is the sandbox status snapshot taken before a container
	// command, when one was taken. Nil for host commands.
	Status *Status

	// Hint is advisory text derived from stderr on failure. It never
	// affects Success.
	Hint string
}

// Output concatenates stdout and stderr for tool observations.
func (r *CommandResult) Output() string {
	out := r.Stdout
	if r.Stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += r.Stderr
	}
	return out
}

// Executor runs commands on the host or inside a named sandbox.
// Stateless between calls except for the per-sandbox mutex set: the
// external runtime does not serialize concurrent exec calls against one
// container, so the executor does.
type Executor struct {
	invoker Invoker
	cfg     ExecutorConfig
	logger  *slog.Logger

	// sleep is injectable so tests can count grace sleeps without waiting.
	sleep func(time.Duration)

	mu       sync.Mutex
	perBox   map[string]*sync.Mutex
}

// NewExecutor creates an Executor over the given runtime invoker.
func NewExecutor(invoker Invoker, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if cfg.HostTimeout <= 0 {
		cfg.HostTimeout = DefaultHostTimeout
	}
	if cfg.ContainerTimeout <= 0 {
		cfg.ContainerTimeout = DefaultContainerTimeout
	}
	if cfg.ReadinessAge <= 0 {
		cfg.ReadinessAge = defaultReadinessAge
	}
	if cfg.GraceSleep <= 0 {
		cfg.GraceSleep = defaultGraceSleep
	}
	return &Executor{
		invoker: invoker,
		cfg:     cfg,
		logger:  logger,
		sleep:   time.Sleep,
		perBox:  make(map[string]*sync.Mutex),
	}
}

// WithSleeper overrides the grace-sleep function. Intended for tests.
func (e *Executor) WithSleeper(sleep func(time.Duration)) *Executor {
	e.sleep = sleep
	return e
}

// Status queries the sandbox state fresh from the external runtime.
// A listing failure or timeout yields StatusFailure, never a partial parse.
func (e *Executor) Status(ctx context.Context, name string) Status {
	res, err := e.invoker.Invoke(ctx, DefaultListTimeout, "list", "containers")
	if err != nil {
		return StatusFailure(err.Error())
	}
	if res.ExitCode != 0 {
		return StatusFailure(fmt.Sprintf("list containers exited %d: %s", res.ExitCode, res.Stderr))
	}
	return ParseListing(res.Stdout, name)
}

// Listing returns the runtime's raw container report for display.
func (e *Executor) Listing(ctx context.Context) (string, error) {
	res, err := e.invoker.Invoke(ctx, DefaultListTimeout, "list", "containers")
	if err != nil {
		return "", fmt.Errorf("listing containers: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("list containers exited %d: %s", res.ExitCode, res.Stderr)
	}
	return res.Stdout, nil
}

// RunHost executes a shell command on the host with the given working
// directory. The shell is deliberate: host commands need pipes and globs.
func (e *Executor) RunHost(ctx context.Context, command, workingDir string, timeout time.Duration) (*CommandResult, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}
	if timeout <= 0 {
		timeout = e.cfg.HostTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = workingDir
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	e.logger.Info("host command executing",
		slog.String("command", command),
		slog.String("dir", workingDir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if ctx.Err() != nil {
			return &CommandResult{
				Success:  false,
				Stdout:   sanitize(stdoutBuf.String()),
				Stderr:   fmt.Sprintf("command timed out after %s", timeout),
				ExitCode: -1,
			}, nil
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("host execution failed: %w", runErr)
		}
	}

	e.logger.Info("host command completed",
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", duration),
	)

	return &CommandResult{
		Success:  exitCode == 0,
		Stdout:   sanitize(stdoutBuf.String()),
		Stderr:   sanitize(stderrBuf.String()),
		ExitCode: exitCode,
	}, nil
}

// RunInContainer executes a shell command inside the named sandbox.
//
// Gating, in order:
//  1. Sandbox absent: fail fast, no process spawned.
//  2. Sandbox stopped: fail fast with the current state text.
//  3. Sandbox running but younger than the readiness age: one grace
//     sleep, then proceed.
func (e *Executor) RunInContainer(ctx context.Context, name, command string, timeout time.Duration) (*CommandResult, error) {
	if name == "" {
		return nil, fmt.Errorf("container name is empty")
	}
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}
	if timeout <= 0 {
		timeout = e.cfg.ContainerTimeout
	}

	lock := e.sandboxLock(name)
	lock.Lock()
	defer lock.Unlock()

	st := e.Status(ctx, name)
	if st.Err != "" {
		return &CommandResult{
			Success: false,
			Stderr:  fmt.Sprintf("cannot check container status: %s", st.Err),
			Status:  &st,
		}, nil
	}
	if !st.Exists {
		return &CommandResult{
			Success: false,
			Stderr:  fmt.Sprintf("container %q not found; deploy it first", name),
			Status:  &st,
		}, nil
	}
	if !st.Running {
		return &CommandResult{
			Success: false,
			Stderr:  fmt.Sprintf("container %q is not running (state: %s)", name, st.RawState),
			Status:  &st,
			Hint:    "Restart the container with manage_container, then retry.",
		}, nil
	}

	if st.AgeSeconds != AgeUnknown && time.Duration(st.AgeSeconds)*time.Second < e.cfg.ReadinessAge {
		e.logger.Info("container started recently, applying readiness grace",
			slog.String("container", name),
			slog.Int("age_seconds", st.AgeSeconds),
			slog.Duration("grace", e.cfg.GraceSleep),
		)
		e.sleep(e.cfg.GraceSleep)
	}

	e.logger.Info("container command executing",
		slog.String("container", name),
		slog.String("command", command),
		slog.Duration("timeout", timeout),
	)

	res, err := e.invoker.Invoke(ctx, timeout, "exec", name, "--", "sh", "-c", command)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return &CommandResult{
				Success:  false,
				Stderr:   fmt.Sprintf("command timed out after %s", timeout),
				ExitCode: -1,
				Status:   &st,
			}, nil
		}
		return nil, err
	}

	out := &CommandResult{
		Success:  res.ExitCode == 0,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Status:   &st,
	}
	if !out.Success {
		out.Hint = SuggestFromStderr(res.Stderr)
	}
	return out, nil
}

// sandboxLock returns the mutex serializing commands against one sandbox.
func (e *Executor) sandboxLock(name string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.perBox[name]
	if !ok {
		lock = &sync.Mutex{}
		e.perBox[name] = lock
	}
	return lock
}
