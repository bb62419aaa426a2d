// Package env manages the lifecycle of the project's conda environment:
// creation and installation strictly from the lock file's explicit package
// URLs, deletion and regeneration, and drift detection against the lock.
package env

import (
	"context"
	"fmt"
	"strings"

	"github.com/conda-ops/conda-ops/internal/conda"
	"github.com/conda-ops/conda-ops/internal/config"
	"github.com/conda-ops/conda-ops/internal/lockfile"
	"github.com/conda-ops/conda-ops/internal/pkgspec"
	"github.com/conda-ops/conda-ops/internal/utils/file"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// Manager performs environment operations for one project.
type Manager struct {
	Config *config.Config
	Client conda.Client
}

// New returns a Manager using the production conda client.
func New(cfg *config.Config) *Manager {
	return &Manager{Config: cfg, Client: &conda.CLI{Condarc: cfg.Paths.Condarc}}
}

func (m *Manager) envName() string { return m.Config.Settings.EnvName }

func (m *Manager) prefix(ctx context.Context) (conda.Info, string, error) {
	info, err := m.Client.Info(ctx)
	if err != nil {
		return conda.Info{}, "", err
	}
	prefix, err := conda.Prefix(info, m.envName())
	if err != nil {
		return conda.Info{}, "", err
	}
	return info, prefix, nil
}

// writeExplicit renders the lock file into its explicit installer inputs and
// reports whether a pip requirements file was produced.
func (m *Manager) writeExplicit() (pipToInstall bool, err error) {
	cfg := m.Config
	if !file.Exists(cfg.Paths.Lockfile) {
		log := logger.Logger()
		log.Errorf("The lockfile does not exist: %s", cfg.Paths.Lockfile)
		log.Info("To generate a lockfile:")
		log.Info(">>> conda-ops lockfile generate")
		return false, fmt.Errorf("lockfile %s does not exist", cfg.Paths.Lockfile)
	}
	lf, err := lockfile.Load(cfg.Paths.Lockfile)
	if err != nil {
		return false, err
	}
	written, err := lf.WriteExplicit(cfg.Paths.ExplicitLockfile, cfg.Paths.PipLockfile, cfg.Paths.NohashLockfile)
	if err != nil {
		return false, err
	}
	for _, path := range written {
		if path == cfg.Paths.PipLockfile {
			return true, nil
		}
	}
	return false, nil
}

// Create builds the managed environment from the lock file. It refuses to
// touch an environment that already exists.
func (m *Manager) Create(ctx context.Context) error {
	log := logger.Logger()
	envName := m.envName()

	info, prefix, err := m.prefix(ctx)
	if err != nil {
		return err
	}
	if conda.EnvExists(info, envName) {
		log.Errorf("Environment %s exists.", envName)
		log.Info("To activate it:")
		log.Infof(">>> conda activate %s", envName)
		return fmt.Errorf("environment %s already exists", envName)
	}

	withPip, err := m.writeExplicit()
	if err != nil {
		return err
	}

	log.Infof("Creating the environment %s", envName)
	if _, err := m.Client.CreateFromFile(ctx, prefix, m.Config.Paths.ExplicitLockfile); err != nil {
		return err
	}
	if withPip {
		log.Info("Installing pip managed dependencies...")
		if err := m.Client.SetPipInterop(ctx, true); err != nil {
			return err
		}
		if _, err := m.Client.PipInstall(ctx, prefix, m.Config.Paths.PipLockfile); err != nil {
			return err
		}
	}

	log.Info("Environment created. To activate the environment:")
	log.Infof(">>> conda activate %s", envName)
	return nil
}

// Install adds the lock file contents to the existing environment. It is
// purely additive and never removes packages.
func (m *Manager) Install(ctx context.Context) error {
	log := logger.Logger()

	_, prefix, err := m.prefix(ctx)
	if err != nil {
		return err
	}
	withPip, err := m.writeExplicit()
	if err != nil {
		return err
	}

	log.Infof("Installing lockfile into the environment %s", m.envName())
	if _, err := m.Client.InstallFromFile(ctx, prefix, m.Config.Paths.ExplicitLockfile); err != nil {
		return err
	}
	if withPip {
		if _, err := m.Client.PipInstall(ctx, prefix, m.Config.Paths.PipLockfile); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the managed environment. Deleting the active environment is
// refused.
func (m *Manager) Delete(ctx context.Context) error {
	log := logger.Logger()
	envName := m.envName()

	info, prefix, err := m.prefix(ctx)
	if err != nil {
		return err
	}
	if !conda.EnvExists(info, envName) {
		log.Warnf("The conda environment %s does not exist, and cannot be deleted.", envName)
		log.Info("To create the environment:")
		log.Info(">>> conda-ops env create")
		return nil
	}
	if conda.EnvActive(info, envName) {
		log.Warnf("The conda environment %s is active, and cannot be deleted.", envName)
		log.Info("To deactivate the environment:")
		log.Info(">>> conda deactivate")
		return fmt.Errorf("environment %s is active", envName)
	}

	log.Debugf("Deleting the conda environment %s", envName)
	return m.Client.RemoveAll(ctx, prefix)
}

// Regenerate deletes the environment and recreates it from the lock file.
func (m *Manager) Regenerate(ctx context.Context) error {
	log := logger.Logger()
	envName := m.envName()

	info, err := m.Client.Info(ctx)
	if err != nil {
		return err
	}
	if conda.EnvActive(info, envName) {
		log.Errorf("The environment %s to be regenerated is active. Deactivate and try again.", envName)
		log.Info(">>> conda deactivate")
		return fmt.Errorf("environment %s is active", envName)
	}

	if err := m.Delete(ctx); err != nil {
		return err
	}
	return m.Create(ctx)
}

// Activate prints how to activate the managed environment. Activation
// changes the caller's shell and cannot be done from a child process.
func (m *Manager) Activate(ctx context.Context, name string) error {
	log := logger.Logger()
	envName := m.envName()

	if name != "" && name != envName {
		log.Warnf("Requested environment %s which does not match the managed environment %s", name, envName)
	}
	info, err := m.Client.Info(ctx)
	if err != nil {
		return err
	}
	if conda.EnvActive(info, envName) {
		log.Warnf("The environment %s is already active.", envName)
		return nil
	}
	log.Info("To activate the environment:")
	log.Infof(">>> conda activate %s", envName)
	return nil
}

// Deactivate prints how to deactivate the active environment.
func (m *Manager) Deactivate(ctx context.Context) error {
	log := logger.Logger()
	envName := m.envName()

	info, err := m.Client.Info(ctx)
	if err != nil {
		return err
	}
	if info.ActivePrefixName != envName {
		log.Warnf("The active environment is %s, not the managed environment %s", info.ActivePrefixName, envName)
	}
	log.Infof("To deactivate the environment %s:", info.ActivePrefixName)
	log.Info(">>> conda deactivate")
	return nil
}

// Check reports whether the managed environment exists and is active.
func (m *Manager) Check(ctx context.Context) (bool, error) {
	log := logger.Logger()
	envName := m.envName()

	info, err := m.Client.Info(ctx)
	if err != nil {
		return false, err
	}
	log.Infof("Active conda environment: %s", info.ActivePrefixName)
	log.Infof("Conda platform: %s", info.Platform)

	if conda.EnvActive(info, envName) {
		return true, nil
	}
	if conda.EnvExists(info, envName) {
		log.Warnf("Managed conda environment ('%s') exists but is not active.", envName)
		log.Info("To activate it:")
		log.Infof(">>> conda activate %s", envName)
	} else {
		log.Warnf("Managed conda environment ('%s') does not yet exist.", envName)
		log.Info("To create it:")
		log.Info(">>> conda-ops env create")
	}
	return false, nil
}

// VersionDiff is a package whose pinned and installed versions disagree.
type VersionDiff struct {
	Name        string
	LockVersion string
	EnvVersion  string
}

// LockDrift is the classified difference between the live environment and
// the lock file. The zero value with OK=true means full sync.
type LockDrift struct {
	OK              bool
	CondaInEnvOnly  []string
	CondaInLockOnly []string
	PipInEnvOnly    []string
	PipInLockOnly   []string
	PipVersionDiffs []VersionDiff
}

// MatchesLock compares the live environment to the lock file: set equality
// of conda explicit URLs, plus name and version equality of pip packages.
// It reports drift and mutates nothing.
func (m *Manager) MatchesLock(ctx context.Context) (LockDrift, error) {
	log := logger.Logger()
	envName := m.envName()

	_, prefix, err := m.prefix(ctx)
	if err != nil {
		return LockDrift{}, err
	}
	lf, err := lockfile.Load(m.Config.Paths.Lockfile)
	if err != nil {
		return LockDrift{}, err
	}

	drift := LockDrift{OK: true}

	log.Debugf("Enumerating packages from the environment %s", envName)
	explicit, err := m.Client.ListExplicit(ctx, prefix)
	if err != nil {
		return LockDrift{}, err
	}
	envSet := make(map[string]bool, len(explicit))
	for _, line := range explicit {
		envSet[line] = true
	}

	rendered := lf.RenderExplicit()
	lockSet := make(map[string]bool)
	for _, line := range strings.Split(rendered.Conda, "\n") {
		if strings.Contains(line, "https") {
			lockSet[line] = true
		}
	}

	for line := range envSet {
		if !lockSet[line] {
			drift.CondaInEnvOnly = append(drift.CondaInEnvOnly, line)
		}
	}
	for line := range lockSet {
		if !envSet[line] {
			drift.CondaInLockOnly = append(drift.CondaInLockOnly, line)
		}
	}

	listed, err := m.Client.ListJSON(ctx, prefix)
	if err != nil {
		return LockDrift{}, err
	}
	envPip := make(map[string]string)
	for _, pkg := range listed {
		if pkg.Channel == pkgspec.PipChannel {
			envPip[pkg.Name] = pkg.Version
		}
	}
	lockPip := make(map[string]string)
	for _, entry := range lf.ByManager(pkgspec.Pip) {
		lockPip[entry.Name] = entry.Version
	}
	log.Debugf("Found %d pip package(s) in environment %s", len(envPip), envName)

	for name, envVersion := range envPip {
		lockVersion, ok := lockPip[name]
		switch {
		case !ok:
			drift.PipInEnvOnly = append(drift.PipInEnvOnly, name)
		case lockVersion != envVersion:
			drift.PipVersionDiffs = append(drift.PipVersionDiffs, VersionDiff{
				Name:        name,
				LockVersion: lockVersion,
				EnvVersion:  envVersion,
			})
		}
	}
	for name := range lockPip {
		if _, ok := envPip[name]; !ok {
			drift.PipInLockOnly = append(drift.PipInLockOnly, name)
		}
	}

	if len(drift.CondaInEnvOnly)+len(drift.CondaInLockOnly)+len(drift.PipInEnvOnly)+
		len(drift.PipInLockOnly)+len(drift.PipVersionDiffs) > 0 {
		drift.OK = false
		m.reportDrift(drift)
	} else {
		log.Debug("Packages in environment and lock file are in sync.")
	}
	return drift, nil
}

func (m *Manager) reportDrift(drift LockDrift) {
	log := logger.Logger()
	envName := m.envName()

	log.Warn("The lock file and environment are not in sync")
	if len(drift.CondaInEnvOnly) > 0 || len(drift.PipInEnvOnly) > 0 {
		log.Debug("Packages in the environment but not in the lock file:")
		log.Debug(strings.Join(append(drift.CondaInEnvOnly, drift.PipInEnvOnly...), "\n"))
		log.Info("To restore the environment to the state of the lock file:")
		log.Info(">>> conda deactivate")
		log.Info(">>> conda-ops env regenerate")
		log.Infof(">>> conda activate %s", envName)
	}
	if len(drift.CondaInLockOnly) > 0 || len(drift.PipInLockOnly) > 0 {
		log.Debug("Packages in the lock file but not in the environment:")
		log.Debug(strings.Join(append(drift.CondaInLockOnly, drift.PipInLockOnly...), "\n"))
		log.Info("To add these packages to the environment:")
		log.Info(">>> conda-ops env install")
	}
	if len(drift.PipVersionDiffs) > 0 {
		log.Debug("Package versions that do not match:")
		for _, diff := range drift.PipVersionDiffs {
			log.Debugf("%s: Lock version %s, Env version %s", diff.Name, diff.LockVersion, diff.EnvVersion)
		}
		log.Info("To sync these versions:")
		log.Info(">>> conda-ops env regenerate")
	}
}
