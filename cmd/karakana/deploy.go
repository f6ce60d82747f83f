package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jkaninda/karakana/internal/config"
	"github.com/jkaninda/karakana/internal/domain"
	"github.com/jkaninda/karakana/internal/lifecycle"
	goutils "github.com/jkaninda/go-utils"
)

var (
	deployConfigPath string
	deployPort       int
)

var deployCmd = &cobra.Command{
	Use:   "deploy <template> <project>",
	Short: "Create a project from a template and deploy its sandbox",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeploy,
}

func init() {
	deployCmd.Flags().StringVar(&deployConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	deployCmd.Flags().IntVar(&deployPort, "port", 0, "host port for the sandbox (default: random 8084-9999)")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	template, project := args[0], args[1]
	logger := newLogger(slog.LevelWarn)

	cfg, err := config.LoadOrDefault(goutils.Env("KARAKANA_CONFIG", deployConfigPath))
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger, false)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx := cmd.Context()
	port := deployPort
	if port == 0 {
		port = lifecycle.RandomHostPort()
	}
	sandbox := strings.ToLower(project)

	record := &domain.Project{
		ID:       domain.NewID(),
		Name:     project,
		Template: template,
		Sandbox:  sandbox,
		Port:     port,
		Status:   domain.StatusDeploying,
	}
	if err := sc.Store.Projects().Create(ctx, record); err != nil {
		return fmt.Errorf("creating project record: %w", err)
	}

	dep, err := sc.Lifecycle.Deploy(ctx, template, project, sandbox, port)
	if err != nil {
		_ = sc.Store.Projects().UpdateStatus(ctx, record.ID, domain.StatusError, err.Error())
		return err
	}
	if err := sc.Store.Projects().UpdateStatus(ctx, record.ID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("marking project ready: %w", err)
	}

	fmt.Printf("deployed %s\n", project)
	fmt.Printf("  id:      %s\n", record.ID)
	fmt.Printf("  sandbox: %s\n", dep.SandboxName)
	fmt.Printf("  path:    %s\n", dep.ProjectPath)
	fmt.Printf("  url:     http://localhost:%d\n", dep.Port)
	return nil
}
