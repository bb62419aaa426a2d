package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conda-ops/conda-ops/internal/conda"
	"github.com/conda-ops/conda-ops/internal/locker"
	"github.com/conda-ops/conda-ops/internal/lockfile"
	"github.com/conda-ops/conda-ops/internal/manifest"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// Lockfile generate flags
var lockInPlace bool = false

// createLockfileCommand creates the lockfile subcommand tree
func createLockfileCommand() *cobra.Command {
	lockfileCmd := &cobra.Command{
		Use:   "lockfile",
		Short: "Generate and check the lock file",
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Regenerate the lock file from the requirements file",
		Long: `Resolve the requirements channel by channel and write the pinned lock file.
By default resolution runs in a throwaway scratch environment so the managed
environment is untouched; --in-place updates the managed environment while
resolving instead.`,
		Args: cobra.NoArgs,
		RunE: executeLockfileGenerate,
	}
	generateCmd.Flags().BoolVar(&lockInPlace, "in-place", false,
		"Resolve in the managed environment instead of a scratch environment")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check the lock file's internal consistency",
		Args:  cobra.NoArgs,
		RunE:  executeLockfileCheck,
	}

	lockfileCmd.AddCommand(generateCmd)
	lockfileCmd.AddCommand(checkCmd)

	return lockfileCmd
}

func executeLockfileGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}

	l := locker.New(cfg)
	return l.Generate(cmd.Context(), !lockInPlace)
}

func executeLockfileCheck(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	cfg, err := loadProject()
	if err != nil {
		return err
	}
	client := &conda.CLI{Condarc: cfg.Paths.Condarc}
	info, err := client.Info(cmd.Context())
	if err != nil {
		return err
	}

	result, err := lockfile.Check(cfg.Paths.Lockfile, info.Platform)
	if err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("lock file is inconsistent")
	}

	m, err := manifest.Load(cfg.Paths.Requirements)
	if err != nil {
		return err
	}
	reqsResult, err := lockfile.MatchesManifest(m, cfg.Paths.Requirements, cfg.Paths.Lockfile)
	if err != nil {
		return err
	}
	if !reqsResult.OK {
		return fmt.Errorf("lock file does not satisfy the requirements file")
	}

	log.Info("Lock file is consistent")
	return nil
}
