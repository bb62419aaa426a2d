package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/conda-ops/conda-ops/internal/manifest"
	"github.com/conda-ops/conda-ops/internal/pkgspec"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// CheckResult reports the internal consistency of a lock file.
type CheckResult struct {
	OK           bool
	Missing      bool
	NoURL        []string
	Inconsistent []string
	NoPlatform   bool
}

// Check validates the lock file at path: every entry must pass
// CheckConsistency, every entry must carry a URL, and at least one entry must
// exist for the requested platform. It mutates nothing.
func Check(path, platform string) (CheckResult, error) {
	log := logger.Logger()
	result := CheckResult{OK: true}

	f, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.OK = false
			result.Missing = true
			log.Error("There is no lock file.")
			log.Info("To create the lock file:")
			log.Info(">>> conda-ops lockfile generate")
			return result, nil
		}
		result.OK = false
		log.Errorf("Unable to load lockfile %s: %v", path, err)
		log.Info("To regenerate the lock file:")
		log.Info(">>> conda-ops lockfile generate")
		return result, nil
	}

	platformSeen := false
	for _, e := range f.Entries {
		if e.URL == "" {
			result.NoURL = append(result.NoURL, e.Name)
			continue
		}
		if !e.CheckConsistency() {
			result.Inconsistent = append(result.Inconsistent, e.Name)
		}
		if e.Platform == platform || e.Platform == "noarch" || e.Manager == pkgspec.Pip {
			platformSeen = true
		}
	}

	if len(result.NoURL) > 0 {
		result.OK = false
		log.Errorf("url(s) for %d package(s) are missing from the lockfile.", len(result.NoURL))
		log.Warnf("The packages %s may not have been added correctly.", strings.Join(result.NoURL, " "))
		log.Warn("Please add any missing packages to the requirements and regenerate the lock file.")
	}
	if len(result.Inconsistent) > 0 {
		result.OK = false
		for _, name := range result.Inconsistent {
			log.Warnf("package information for %s is inconsistent", name)
		}
	}
	if !platformSeen {
		result.OK = false
		result.NoPlatform = true
		log.Errorf("The lock file has no entry for platform %s.", platform)
	}
	if !result.OK {
		log.Info("To regenerate the lock file:")
		log.Info(">>> conda-ops lockfile generate")
	}

	return result, nil
}

// ManifestResult reports the reconciliation of the lock file against the
// requirements manifest.
type ManifestResult struct {
	OK              bool
	LockOutdated    bool
	MissingFromLock []string
	Mismatched      []string
	Invalid         []string
}

// MatchesManifest checks the lock file at lockPath against the manifest: the
// lock file must be newer than the requirements file, every manifest package
// must appear in the lock file by name, and recorded versions must satisfy
// the manifest's constraints. Reported as data; nothing is mutated.
func MatchesManifest(m *manifest.Manifest, reqsPath, lockPath string) (ManifestResult, error) {
	log := logger.Logger()
	result := ManifestResult{OK: true}

	reqsInfo, err := os.Stat(reqsPath)
	if err != nil {
		return result, fmt.Errorf("stat requirements file: %w", err)
	}
	lockInfo, err := os.Stat(lockPath)
	if err != nil {
		return result, fmt.Errorf("stat lock file: %w", err)
	}
	if reqsInfo.ModTime().After(lockInfo.ModTime()) {
		result.OK = false
		result.LockOutdated = true
		log.Warn("The requirements file is newer than the lock file.")
		log.Info("To update the lock file:")
		log.Info(">>> conda-ops lockfile generate")
	}

	lock, err := Load(lockPath)
	if err != nil {
		return result, err
	}

	checkSpec := func(raw string, manager pkgspec.Manager) {
		spec, err := pkgspec.Parse(raw, manager, "")
		if err != nil {
			result.Invalid = append(result.Invalid, raw)
			return
		}
		if spec.IsPath() {
			return
		}
		entry, found := lock.Get(spec.Name)
		if !found {
			result.MissingFromLock = append(result.MissingFromLock, spec.String())
			return
		}
		ok, err := spec.Satisfies(entry.Version)
		if err != nil {
			// Version schemes the evaluator cannot parse are advisory only;
			// the resolver already enforced the constraint at lock time.
			log.Debugf("Cannot evaluate constraint %s against %s: %v", spec.String(), entry.Version, err)
			return
		}
		if !ok {
			result.Mismatched = append(result.Mismatched, spec.String())
		}
	}

	for _, dep := range m.CondaDeps {
		checkSpec(dep, pkgspec.Conda)
	}
	for _, dep := range m.PipDeps {
		checkSpec(dep, pkgspec.Pip)
	}

	if len(result.Invalid) > 0 {
		result.OK = false
		log.Errorf("The following requirements are of an invalid format: %s", strings.Join(result.Invalid, " "))
		log.Info("Please update the requirements file accordingly.")
	}
	if len(result.MissingFromLock) > 0 || len(result.Mismatched) > 0 {
		result.OK = false
		if len(result.MissingFromLock) > 0 {
			log.Error("The following requirements are not in the lockfile:")
			log.Errorf("%s", strings.Join(result.MissingFromLock, " "))
		}
		if len(result.Mismatched) > 0 {
			log.Error("The following requirements are locked at versions outside their constraint:")
			log.Errorf("%s", strings.Join(result.Mismatched, " "))
		}
		log.Info("To update the lock file:")
		log.Info(">>> conda-ops lockfile generate")
	}

	return result, nil
}
