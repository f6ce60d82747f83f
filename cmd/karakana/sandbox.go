package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/karakana/internal/config"
	"github.com/jkaninda/karakana/internal/runtime"
	"github.com/jkaninda/karakana/internal/storage"
	goutils "github.com/jkaninda/go-utils"
)

var sandboxConfigPath string

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Inspect and control project sandboxes",
}

var sandboxStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show a sandbox's container status",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxStatus,
}

var sandboxStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Ensure a sandbox is running",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxStart,
}

var sandboxStopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a running sandbox",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxStop,
}

var sandboxRestartCmd = &cobra.Command{
	Use:   "restart <name>",
	Short: "Restart a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxRestart,
}

var sandboxRemoveCmd = &cobra.Command{
	Use:   "remove <project>",
	Short: "Remove a project's sandbox, files, history and record",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxRemove,
}

func init() {
	sandboxCmd.PersistentFlags().StringVar(&sandboxConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	sandboxCmd.AddCommand(sandboxStatusCmd, sandboxStartCmd, sandboxStopCmd, sandboxRestartCmd, sandboxRemoveCmd)
}

// initSandboxComponents loads config and builds the runtime stack
// without an LLM provider.
func initSandboxComponents() (*SharedComponents, error) {
	cfg, err := config.LoadOrDefault(goutils.Env("KARAKANA_CONFIG", sandboxConfigPath))
	if err != nil {
		return nil, err
	}
	return initShared(cfg, newLogger(slog.LevelWarn), false)
}

func runSandboxStatus(cmd *cobra.Command, args []string) error {
	sc, err := initSandboxComponents()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	status := sc.Executor.Status(cmd.Context(), args[0])
	return renderSandboxStatus(os.Stdout, args[0], status)
}

// renderSandboxStatus writes the human-readable status report. A listing
// failure carried in Status.Err becomes the command's error.
func renderSandboxStatus(w io.Writer, name string, status runtime.Status) error {
	if status.Err != "" {
		return errors.New(status.Err)
	}
	if !status.Exists {
		fmt.Fprintf(w, "%s: not found\n", name)
		return nil
	}
	fmt.Fprintf(w, "%s\n", name)
	fmt.Fprintf(w, "  state:   %s\n", status.RawState)
	fmt.Fprintf(w, "  running: %t\n", status.Running)
	if status.Image != "" {
		fmt.Fprintf(w, "  image:   %s\n", status.Image)
	}
	if status.Ports != "" {
		fmt.Fprintf(w, "  ports:   %s\n", status.Ports)
	}
	return nil
}

func runSandboxStart(cmd *cobra.Command, args []string) error {
	sc, err := initSandboxComponents()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	res, err := sc.Lifecycle.EnsureRunning(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", args[0], res.Action)
	return nil
}

func runSandboxStop(cmd *cobra.Command, args []string) error {
	sc, err := initSandboxComponents()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	if err := sc.Lifecycle.Stop(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("%s: stopped\n", args[0])
	return nil
}

func runSandboxRestart(cmd *cobra.Command, args []string) error {
	sc, err := initSandboxComponents()
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	res, err := sc.Lifecycle.Restart(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", args[0], res.Action)
	return nil
}

// runSandboxRemove tears down everything belonging to a project: the
// container, its image, the project directory, the conversation
// history and the registry record.
func runSandboxRemove(cmd *cobra.Command, args []string) error {
	sc, err := initSandboxComponents()
	if err != nil {
		return err
	}
	defer sc.Cleanup()
	ctx := cmd.Context()

	project, err := resolveProject(ctx, sc.Store, args[0])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("project %q not found", args[0])
		}
		return err
	}

	if project.Sandbox != "" {
		report := sc.Lifecycle.DeleteAndCleanup(ctx, project.Sandbox, project.Name)
		fmt.Printf("container removed: %t\n", report.ContainerRemoved)
		fmt.Printf("image removed:     %t\n", report.ImageRemoved)
		fmt.Printf("files removed:     %t\n", report.FilesRemoved)
		for _, e := range report.Errors {
			fmt.Printf("warning: %s\n", e)
		}
	} else if err := sc.Workspace.RemoveProject(project.Name); err != nil {
		return err
	}

	if err := sc.Store.Messages().DeleteForProject(ctx, project.ID); err != nil {
		fmt.Printf("warning: deleting history: %v\n", err)
	}
	if err := sc.Store.Projects().Delete(ctx, project.ID); err != nil {
		return fmt.Errorf("deleting project record: %w", err)
	}
	fmt.Printf("project %s removed\n", project.Name)
	return nil
}
