// Package ops chains the individual consistency checks into the three-way
// comparison between the requirements file, the lock file and the live
// environment. Each stage runs at most once; downstream stages that depend
// on a broken upstream are skipped rather than reported as extra failures.
package ops

import (
	"context"

	"github.com/conda-ops/conda-ops/internal/conda"
	"github.com/conda-ops/conda-ops/internal/config"
	"github.com/conda-ops/conda-ops/internal/env"
	"github.com/conda-ops/conda-ops/internal/lockfile"
	"github.com/conda-ops/conda-ops/internal/manifest"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// Report is the outcome of a full consistency check. Pointer fields are nil
// when that stage was skipped because an upstream stage already failed.
type Report struct {
	OK bool

	Manifest         manifest.CheckResult
	Lockfile         lockfile.CheckResult
	LockfileManifest *lockfile.ManifestResult
	EnvExists        bool
	EnvActive        bool
	EnvLockfile      *env.LockDrift
}

// Checker runs consistency checks for one project.
type Checker struct {
	Config *config.Config
	Client conda.Client
	Envs   *env.Manager
}

// New returns a Checker using the production conda client.
func New(cfg *config.Config) *Checker {
	client := &conda.CLI{Condarc: cfg.Paths.Condarc}
	return &Checker{Config: cfg, Client: client, Envs: &env.Manager{Config: cfg, Client: client}}
}

// ConsistencyCheck verifies requirements vs. lock file vs. environment.
// Drift is data, not an error: the returned error covers only operational
// failures such as an unreadable project or a failed subprocess.
func (c *Checker) ConsistencyCheck(ctx context.Context) (Report, error) {
	log := logger.Logger()
	cfg := c.Config

	if err := cfg.Check(); err != nil {
		return Report{}, err
	}
	log.Info("Configuration is consistent")
	log.Infof("Managed conda environment: %s", cfg.Settings.EnvName)

	report := Report{}

	reqsResult, err := manifest.Check(cfg.Paths.Requirements, cfg.Settings.EnvName)
	if err != nil {
		return report, err
	}
	report.Manifest = reqsResult

	info, err := c.Client.Info(ctx)
	if err != nil {
		return report, err
	}
	lockResult, err := lockfile.Check(cfg.Paths.Lockfile, info.Platform)
	if err != nil {
		return report, err
	}
	report.Lockfile = lockResult

	if reqsResult.OK && lockResult.OK {
		m, err := manifest.Load(cfg.Paths.Requirements)
		if err != nil {
			return report, err
		}
		lockReqs, err := lockfile.MatchesManifest(m, cfg.Paths.Requirements, cfg.Paths.Lockfile)
		if err != nil {
			return report, err
		}
		report.LockfileManifest = &lockReqs
	} else {
		log.Warn("Requirements or lock file inconsistent. Skipping the lock file vs. requirements check.")
		log.Info("To regenerate the lock file:")
		log.Info(">>> conda-ops lockfile generate")
	}

	report.EnvExists = conda.EnvExists(info, cfg.Settings.EnvName)
	report.EnvActive = conda.EnvActive(info, cfg.Settings.EnvName)
	envOK, err := c.Envs.Check(ctx)
	if err != nil {
		return report, err
	}

	if envOK && lockResult.OK {
		drift, err := c.Envs.MatchesLock(ctx)
		if err != nil {
			return report, err
		}
		report.EnvLockfile = &drift
	} else if !envOK {
		log.Warn("Environment does not exist or is not active. Skipping the environment vs. lock file check.")
	}

	report.OK = report.Manifest.OK && report.Lockfile.OK &&
		report.LockfileManifest != nil && report.LockfileManifest.OK &&
		report.EnvActive &&
		report.EnvLockfile != nil && report.EnvLockfile.OK
	return report, nil
}
