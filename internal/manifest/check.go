package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/conda-ops/conda-ops/internal/pkgspec"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
	"github.com/conda-ops/conda-ops/internal/validate"
)

// CheckResult reports the outcome of validating a requirements file. It is
// derived data; Check never mutates its inputs except for the gated
// canonicalization rewrite.
type CheckResult struct {
	OK              bool
	Missing         bool
	InvalidSpecs    []string
	Duplicates      []string
	EnvNameMismatch bool
	Rewritten       bool
}

// Check validates the requirements file at path: structural schema, spec
// format, duplicate names, and the manifest name against the managed
// environment name. When every spec is individually valid but some are not in
// canonical form, the file is rewritten in place; this is the only repair
// Check performs.
func Check(path, envName string) (CheckResult, error) {
	log := logger.Logger()
	result := CheckResult{OK: true}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			result.OK = false
			result.Missing = true
			log.Warnf("No requirements file present at %s", path)
			log.Info("To add a default requirements file to the project:")
			log.Info(">>> conda-ops init")
			return result, nil
		}
		return result, fmt.Errorf("reading requirements file: %w", err)
	}

	if err := validate.ValidateRequirementsYAML(data); err != nil {
		result.OK = false
		log.Errorf("Requirements file %s is structurally invalid: %v", path, err)
		log.Info("Please fix the file and re-run the check.")
		return result, nil
	}

	m, err := parse(data)
	if err != nil {
		result.OK = false
		log.Errorf("Unable to parse requirements file %s: %v", path, err)
		return result, nil
	}

	if m.Name != envName {
		result.OK = false
		result.EnvNameMismatch = true
		log.Errorf("The name in the requirements file (%s) does not match the managed environment name (%s)", m.Name, envName)
		log.Infof("Please set `name: %s` in %s", envName, path)
	}

	var names []string
	needsRewrite := false

	canonicalConda := make([]string, 0, len(m.CondaDeps))
	for _, dep := range m.CondaDeps {
		spec, err := pkgspec.Parse(dep, pkgspec.Conda, "")
		if err != nil {
			result.InvalidSpecs = append(result.InvalidSpecs, dep)
			continue
		}
		if spec.String() != dep {
			log.Warnf("Requirement %s will be updated to the canonical format %s", dep, spec.String())
			needsRewrite = true
		}
		canonicalConda = append(canonicalConda, spec.String())
		names = append(names, spec.Name)
	}

	canonicalPip := make([]string, 0, len(m.PipDeps))
	for _, dep := range m.PipDeps {
		spec, err := pkgspec.Parse(dep, pkgspec.Pip, "")
		if err != nil {
			result.InvalidSpecs = append(result.InvalidSpecs, dep)
			continue
		}
		if spec.String() != dep {
			log.Warnf("Requirement %s will be updated to the canonical format %s", dep, spec.String())
			needsRewrite = true
		}
		canonicalPip = append(canonicalPip, spec.String())
		if !spec.IsPath() {
			names = append(names, spec.Name)
		}
	}

	if len(result.InvalidSpecs) > 0 {
		result.OK = false
		log.Errorf("The following specs are of an invalid format: %s", strings.Join(result.InvalidSpecs, " "))
		log.Info("Please update them accordingly.")
	}

	seen := map[string]int{}
	for _, name := range names {
		seen[name]++
	}
	for name, count := range seen {
		if count > 1 {
			result.Duplicates = append(result.Duplicates, name)
		}
	}
	if len(result.Duplicates) > 0 {
		result.OK = false
		log.Errorf("The packages %s have been specified more than once.", strings.Join(result.Duplicates, " "))
		log.Infof("Please update the requirements file %s accordingly.", path)
	}

	// The rewrite is gated on all specs being individually valid.
	if result.OK && needsRewrite {
		log.Warn("Updating the requirements file to canonical spec formats")
		m.CondaDeps = canonicalConda
		m.PipDeps = canonicalPip
		if err := m.Save(path); err != nil {
			return result, fmt.Errorf("rewriting requirements file: %w", err)
		}
		result.Rewritten = true
	}

	return result, nil
}
