package main

import (
	"github.com/spf13/cobra"

	"github.com/conda-ops/conda-ops/internal/manifest"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// createRemoveCommand creates the remove subcommand
func createRemoveCommand() *cobra.Command {
	removeCmd := &cobra.Command{
		Use:   "remove PACKAGE...",
		Short: "Remove packages from the requirements file",
		Long: `Remove one or more packages, by name, from the requirements file. Channels
that no longer have any packages are dropped from the channel order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: executeRemove,
	}

	return removeCmd
}

func executeRemove(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	cfg, err := loadProject()
	if err != nil {
		return err
	}
	m, err := manifest.Load(cfg.Paths.Requirements)
	if err != nil {
		return err
	}
	if err := m.Remove(args); err != nil {
		return err
	}
	if err := m.Save(cfg.Paths.Requirements); err != nil {
		return err
	}

	log.Infof("Removed packages from %s", cfg.Paths.Requirements)
	log.Info("To update the lock file accordingly:")
	log.Info(">>> conda-ops lockfile generate")
	return nil
}
