package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conda-ops/conda-ops/internal/config"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// Command-line flags shared by every subcommand.
var logLevel string = "" // Empty means the default level

func main() {
	_, cleanup := logger.InitWithLevel("info")
	defer cleanup()

	rootCmd := createRootCommand()
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if logLevel != "" {
			logger.SetLogLevel(logLevel)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// createRootCommand creates and configures the root cobra command with all subcommands
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conda-ops",
		Short: "Reproducible conda environments from a requirements file",
		Long: `conda-ops keeps a requirements file, a generated lock file and a conda
environment in sync. The requirements file states what you want, the lock
file pins exactly what was resolved, and the environment is only ever built
from the lock file.

Use 'conda-ops --help' to see available commands.
Use 'conda-ops <command> --help' for more information about a command.`,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error)")

	rootCmd.AddCommand(createInitCommand())
	rootCmd.AddCommand(createAddCommand())
	rootCmd.AddCommand(createRemoveCommand())
	rootCmd.AddCommand(createStatusCommand())
	rootCmd.AddCommand(createLockfileCommand())
	rootCmd.AddCommand(createEnvCommand())
	rootCmd.AddCommand(createVersionCommand())

	return rootCmd
}

// loadProject locates the enclosing project from the working directory.
func loadProject() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		log := logger.Logger()
		log.Errorf("%v", err)
		log.Info("To initialize a project here:")
		log.Info(">>> conda-ops init")
		return nil, err
	}
	return cfg, nil
}
