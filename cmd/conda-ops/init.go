package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/conda-ops/conda-ops/internal/config"
	"github.com/conda-ops/conda-ops/internal/manifest"
	"github.com/conda-ops/conda-ops/internal/utils/file"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// createInitCommand creates the init subcommand
func createInitCommand() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a conda-ops project in the current directory",
		Long: `Create the .conda-ops project directory and a minimal requirements file.
The managed environment is named after the current directory.`,
		Args: cobra.NoArgs,
		RunE: executeInit,
	}

	return initCmd
}

func executeInit(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Init(cwd)
	if err != nil {
		if !errors.Is(err, config.ErrAlreadyInitialized) {
			return err
		}
		log.Warnf("A project already exists at %s", cfg.Paths.OpsDir)
	} else {
		log.Infof("Initialized project at %s", cfg.Paths.OpsDir)
	}

	if file.Exists(cfg.Paths.Requirements) {
		log.Debugf("Requirements file already present at %s", cfg.Paths.Requirements)
	} else {
		if err := manifest.Create(cfg.Paths.Requirements, cfg.Settings.EnvName); err != nil {
			return err
		}
		log.Infof("Created default requirements file at %s", cfg.Paths.Requirements)
	}

	log.Info("To generate the lock file:")
	log.Info(">>> conda-ops lockfile generate")
	return nil
}
