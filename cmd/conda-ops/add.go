package main

import (
	"github.com/spf13/cobra"

	"github.com/conda-ops/conda-ops/internal/manifest"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// Add command flags
var addChannel string = "" // Empty means the defaults channel

// createAddCommand creates the add subcommand
func createAddCommand() *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add [flags] PACKAGE...",
		Short: "Add packages to the requirements file",
		Long: `Add one or more package specifications to the requirements file. Use
--channel to request a specific conda channel, or --channel pip for packages
from the Python package index. Adding only edits the requirements file; the
lock file and environment are updated by the lockfile and env commands.`,
		Args: cobra.MinimumNArgs(1),
		RunE: executeAdd,
	}

	addCmd.Flags().StringVarP(&addChannel, "channel", "c", "",
		"Channel to source the packages from ('pip' for the Python package index)")

	return addCmd
}

func executeAdd(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	cfg, err := loadProject()
	if err != nil {
		return err
	}
	m, err := manifest.Load(cfg.Paths.Requirements)
	if err != nil {
		return err
	}
	if err := m.Add(args, addChannel); err != nil {
		return err
	}
	if err := m.Save(cfg.Paths.Requirements); err != nil {
		return err
	}

	log.Infof("Added packages to %s", cfg.Paths.Requirements)
	log.Info("To update the lock file accordingly:")
	log.Info(">>> conda-ops lockfile generate")
	return nil
}
