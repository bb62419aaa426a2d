package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conda-ops/conda-ops/internal/ops"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// createStatusCommand creates the status subcommand
func createStatusCommand() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Check requirements, lock file and environment for consistency",
		Long: `Run the full three-way consistency check: requirements file against the
lock file against the live environment. Each inconsistency is reported with
the command that fixes it.`,
		Args: cobra.NoArgs,
		RunE: executeStatus,
	}

	return statusCmd
}

func executeStatus(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	cfg, err := loadProject()
	if err != nil {
		return err
	}

	checker := ops.New(cfg)
	report, err := checker.ConsistencyCheck(cmd.Context())
	if err != nil {
		return err
	}
	if !report.OK {
		return fmt.Errorf("project is not consistent")
	}
	log.Info("Requirements, lock file and environment are in sync")
	return nil
}
