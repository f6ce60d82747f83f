// Package lifecycle owns sandbox provisioning and teardown. A sandbox moves
// through Absent, Deploying, Created, Running, Stopped and Removed; every
// transition is driven by the external runtime CLI and verified by a fresh
// status query rather than local bookkeeping.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/jkaninda/karakana/internal/runtime"
	"github.com/jkaninda/karakana/internal/workspace"
)

const (
	// DefaultControlTimeout bounds start, stop and restart invocations.
	DefaultControlTimeout = 60 * time.Second
	// DefaultDeployTimeout bounds the create/run invocation, which may
	// include an image build.
	DefaultDeployTimeout = 5 * time.Minute
	// DefaultSettleDelay is how long a freshly started sandbox gets before
	// its status is re-queried.
	DefaultSettleDelay = 3 * time.Second

	// Host ports for new sandboxes are drawn from this range.
	portRangeLow  = 8084
	portRangeHigh = 9999
)

// Config carries the manager's tunables. Zero values select the defaults.
type Config struct {
	ControlTimeout time.Duration
	DeployTimeout  time.Duration
	SettleDelay    time.Duration
}

// DeploymentFailure wraps any error raised while creating a sandbox, whether
// during template materialization or the runtime create call.
type DeploymentFailure struct {
	Stage string // "materialize" or "create"
	Cause error
}

func (e *DeploymentFailure) Error() string {
	return fmt.Sprintf("deployment failed during %s: %v", e.Stage, e.Cause)
}

func (e *DeploymentFailure) Unwrap() error { return e.Cause }

// Deployment describes a successfully provisioned sandbox.
type Deployment struct {
	ProjectPath string `json:"project_path"`
	SandboxName string `json:"sandbox_name"`
	Port        int    `json:"port"`
}

// EnsureResult reports what EnsureRunning did and the status it observed
// afterwards.
type EnsureResult struct {
	Action string         `json:"action"` // "already_running", "started" or "restarted"
	Status runtime.Status `json:"status"`
}

// CleanupReport is the outcome of DeleteAndCleanup. Each step is attempted
// regardless of the others; failures land in Errors instead of aborting.
type CleanupReport struct {
	ContainerRemoved bool     `json:"container_removed"`
	ImageRemoved     bool     `json:"image_removed"`
	FilesRemoved     bool     `json:"files_removed"`
	Errors           []string `json:"errors"`
}

// Manager drives sandbox lifecycle transitions through the runtime CLI.
type Manager struct {
	invoker runtime.Invoker
	exec    *runtime.Executor
	ws      *workspace.Workspace
	cfg     Config
	logger  *slog.Logger
	sleep   func(time.Duration)
}

// NewManager builds a Manager. exec is used for status queries so that
// lifecycle decisions see the same parsed view as command execution.
func NewManager(invoker runtime.Invoker, exec *runtime.Executor, ws *workspace.Workspace, cfg Config, logger *slog.Logger) *Manager {
	if cfg.ControlTimeout <= 0 {
		cfg.ControlTimeout = DefaultControlTimeout
	}
	if cfg.DeployTimeout <= 0 {
		cfg.DeployTimeout = DefaultDeployTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	return &Manager{
		invoker: invoker,
		exec:    exec,
		ws:      ws,
		cfg:     cfg,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// WithSleeper replaces the settle sleep, for tests.
func (m *Manager) WithSleeper(sleep func(time.Duration)) *Manager {
	m.sleep = sleep
	return m
}

// RandomHostPort picks a host port in the sandbox range. Collisions are
// possible and surface as a deploy failure; callers retry with a new port.
func RandomHostPort() int {
	return portRangeLow + rand.IntN(portRangeHigh-portRangeLow+1)
}

// Deploy materializes the template into a new project directory and asks the
// runtime to build and run a sandbox on it. The image tag is bound to the
// sandbox name so later cleanup can find it.
func (m *Manager) Deploy(ctx context.Context, template, project, sandbox string, port int) (*Deployment, error) {
	path, err := m.ws.MaterializeProject(template, project)
	if err != nil {
		return nil, &DeploymentFailure{Stage: "materialize", Cause: err}
	}

	m.logger.Info("deploying sandbox",
		slog.String("template", template),
		slog.String("sandbox", sandbox),
		slog.String("path", path),
		slog.Int("port", port),
	)

	res, err := m.invoker.Invoke(ctx, m.cfg.DeployTimeout,
		"deploy", template, sandbox, path,
		"--host-port", strconv.Itoa(port),
		"--image", sandbox,
	)
	if err != nil {
		return nil, &DeploymentFailure{Stage: "create", Cause: err}
	}
	if res.ExitCode != 0 {
		return nil, &DeploymentFailure{
			Stage: "create",
			Cause: fmt.Errorf("runtime deploy exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)),
		}
	}

	return &Deployment{ProjectPath: path, SandboxName: sandbox, Port: port}, nil
}

// EnsureRunning starts the named sandbox if it is stopped. It never creates
// one: an absent sandbox is a hard error, since implicit re-deploys would
// mask lost state. Calling it on a running sandbox is a no-op.
func (m *Manager) EnsureRunning(ctx context.Context, name string) (*EnsureResult, error) {
	st := m.exec.Status(ctx, name)
	if st.Err != "" {
		return nil, fmt.Errorf("checking sandbox %q: %s", name, st.Err)
	}
	if !st.Exists {
		return nil, fmt.Errorf("sandbox %q: %w", name, runtime.ErrNotFound)
	}
	if st.Running {
		return &EnsureResult{Action: "already_running", Status: st}, nil
	}

	m.logger.Info("starting stopped sandbox", slog.String("sandbox", name), slog.String("state", st.RawState))
	res, err := m.invoker.Invoke(ctx, m.cfg.ControlTimeout, "start", name)
	if err != nil {
		return nil, fmt.Errorf("starting sandbox %q: %w", name, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("starting sandbox %q: runtime exited %d: %s", name, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	// Give the container a moment before trusting the status report.
	m.sleep(m.cfg.SettleDelay)

	refreshed := m.exec.Status(ctx, name)
	return &EnsureResult{Action: "started", Status: refreshed}, nil
}

// Stop halts a running sandbox without removing it. Stopping an
// already-stopped sandbox is not an error; the runtime treats it as a
// no-op.
func (m *Manager) Stop(ctx context.Context, name string) error {
	res, err := m.invoker.Invoke(ctx, m.cfg.ControlTimeout, "stop", name)
	if err != nil {
		return fmt.Errorf("stopping sandbox %q: %w", name, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("stopping sandbox %q: runtime exited %d: %s", name, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Restart stops and starts the sandbox. The stop is best-effort; only the
// start determines success.
func (m *Manager) Restart(ctx context.Context, name string) (*EnsureResult, error) {
	if res, err := m.invoker.Invoke(ctx, m.cfg.ControlTimeout, "stop", name); err != nil {
		m.logger.Warn("stop before restart failed", slog.String("sandbox", name), slog.Any("error", err))
	} else if res.ExitCode != 0 {
		m.logger.Warn("stop before restart exited nonzero",
			slog.String("sandbox", name),
			slog.Int("exit_code", res.ExitCode),
		)
	}

	res, err := m.invoker.Invoke(ctx, m.cfg.ControlTimeout, "start", name)
	if err != nil {
		return nil, fmt.Errorf("restarting sandbox %q: %w", name, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("restarting sandbox %q: runtime exited %d: %s", name, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	m.sleep(m.cfg.SettleDelay)

	refreshed := m.exec.Status(ctx, name)
	return &EnsureResult{Action: "restarted", Status: refreshed}, nil
}

// DeleteAndCleanup tears a sandbox down: container, image, project files.
// Each step runs regardless of earlier failures and the report says exactly
// how far the cleanup got. It never returns an error; deletion is terminal
// and partial cleanup beats none.
func (m *Manager) DeleteAndCleanup(ctx context.Context, name, project string) *CleanupReport {
	report := &CleanupReport{}

	// The runtime removes container and image in one verb. A container
	// failure aborts its image step too, so both outcomes come from this
	// single call: image trouble is reported as a warning on an otherwise
	// successful removal.
	res, err := m.invoker.Invoke(ctx, m.cfg.ControlTimeout, "remove", name, "--force", "--remove-image")
	switch {
	case err != nil:
		report.Errors = append(report.Errors, fmt.Sprintf("remove container %s: %v", name, err))
	case res.ExitCode != 0:
		report.Errors = append(report.Errors, fmt.Sprintf("remove container %s: runtime exited %d: %s", name, res.ExitCode, strings.TrimSpace(res.Stderr)))
	default:
		report.ContainerRemoved = true
		if warn := imageRemovalWarning(res.Stdout + res.Stderr); warn != "" {
			report.Errors = append(report.Errors, fmt.Sprintf("remove image for %s: %s", name, warn))
		} else {
			report.ImageRemoved = true
		}
	}

	if err := m.ws.RemoveProject(project); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("remove project files: %v", err))
	} else {
		report.FilesRemoved = true
	}

	m.logger.Info("sandbox cleanup finished",
		slog.String("sandbox", name),
		slog.Bool("container_removed", report.ContainerRemoved),
		slog.Bool("image_removed", report.ImageRemoved),
		slog.Bool("files_removed", report.FilesRemoved),
		slog.Int("errors", len(report.Errors)),
	)
	return report
}

// imageRemovalWarning extracts the runtime's image-removal warning line, if
// any. The runtime exits zero when only the image step fails, so the warning
// text is the sole signal.
func imageRemovalWarning(output string) string {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "failed to remove image") {
			return strings.TrimSpace(line)
		}
	}
	return ""
}
