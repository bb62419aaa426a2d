package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conda-ops/conda-ops/internal/env"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// createEnvCommand creates the env subcommand tree
func createEnvCommand() *cobra.Command {
	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Manage the project's conda environment",
	}

	envCmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create the environment from the lock file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := envManager()
			if err != nil {
				return err
			}
			return m.Create(cmd.Context())
		},
	})
	envCmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Additively install the lock file contents into the environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := envManager()
			if err != nil {
				return err
			}
			return m.Install(cmd.Context())
		},
	})
	envCmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Delete the environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := envManager()
			if err != nil {
				return err
			}
			return m.Delete(cmd.Context())
		},
	})
	envCmd.AddCommand(&cobra.Command{
		Use:   "regenerate",
		Short: "Delete the environment and recreate it from the lock file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := envManager()
			if err != nil {
				return err
			}
			return m.Regenerate(cmd.Context())
		},
	})
	envCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Check that the environment exists, is active, and matches the lock file",
		Args:  cobra.NoArgs,
		RunE:  executeEnvCheck,
	})
	envCmd.AddCommand(&cobra.Command{
		Use:   "activate",
		Short: "Show how to activate the environment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := envManager()
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return m.Activate(cmd.Context(), name)
		},
	})
	envCmd.AddCommand(&cobra.Command{
		Use:   "deactivate",
		Short: "Show how to deactivate the environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := envManager()
			if err != nil {
				return err
			}
			return m.Deactivate(cmd.Context())
		},
	})

	return envCmd
}

func envManager() (*env.Manager, error) {
	cfg, err := loadProject()
	if err != nil {
		return nil, err
	}
	return env.New(cfg), nil
}

func executeEnvCheck(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	m, err := envManager()
	if err != nil {
		return err
	}
	ok, err := m.Check(cmd.Context())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("environment check failed")
	}
	drift, err := m.MatchesLock(cmd.Context())
	if err != nil {
		return err
	}
	if !drift.OK {
		return fmt.Errorf("environment does not match the lock file")
	}
	log.Info("Environment matches the lock file")
	return nil
}
