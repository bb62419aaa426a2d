// Package pkgspec models a single package requirement as it appears in the
// requirements manifest, for both the conda and pip package managers.
package pkgspec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Manager identifies which package manager owns a requirement. It is a closed
// set; code switching on it handles every constant and rejects anything else.
type Manager string

const (
	Conda Manager = "conda"
	Pip   Manager = "pip"
)

// PipChannel is the channel identifier the resolver's listing reports for
// pip-installed packages.
const PipChannel = "pypi"

// DefaultChannel is the implicit first channel when none is qualified.
const DefaultChannel = "defaults"

// ErrInvalidSpec reports a requirement string that cannot be parsed.
var ErrInvalidSpec = errors.New("invalid package specification")

// Valid reports whether m is one of the known managers.
func (m Manager) Valid() bool {
	switch m {
	case Conda, Pip:
		return true
	}
	return false
}

// Spec is a parsed package requirement. Exactly one of the registry
// requirement (Name, Constraint) and PathRef is active.
type Spec struct {
	Name       string
	Constraint string
	Manager    Manager
	Channel    string
	Editable   bool
	PathRef    string
}

var (
	singleEqualRe = regexp.MustCompile(`^\s*((?:[A-Za-z0-9._-]+::)?[A-Za-z0-9._-]+)\s*=\s*([A-Za-z0-9.*+!_-]+)\s*$`)
	nameRe        = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	constraintRe  = regexp.MustCompile(`^(==|!=|>=|<=|>|<|~=)\s*([A-Za-z0-9.*+!_-]+)$`)
	driveRe       = regexp.MustCompile(`^[A-Za-z]:\\`)
)

// Parse parses a manifest requirement line. A manager of "" is inferred from
// the channel: "pip" means pip, anything else means conda. A single "=" is
// normalized to exact-version "==" before validation.
func Parse(text string, manager Manager, channel string) (Spec, error) {
	if manager == "" {
		if channel == string(Pip) {
			manager = Pip
		} else {
			manager = Conda
		}
	}
	if !manager.Valid() {
		return Spec{}, fmt.Errorf("%w: unknown manager %q", ErrInvalidSpec, manager)
	}

	clean := strings.TrimSpace(text)
	if clean == "" {
		return Spec{}, fmt.Errorf("%w: empty requirement", ErrInvalidSpec)
	}

	if m := singleEqualRe.FindStringSubmatch(clean); m != nil && !strings.Contains(clean, "==") {
		clean = m[1] + "==" + m[2]
	}

	switch manager {
	case Conda:
		return parseConda(clean, channel)
	case Pip:
		return parsePip(clean)
	}
	return Spec{}, fmt.Errorf("%w: unknown manager %q", ErrInvalidSpec, manager)
}

func parseConda(clean, channel string) (Spec, error) {
	spec := Spec{Manager: Conda, Channel: channel}

	if idx := strings.Index(clean, "::"); idx >= 0 {
		spec.Channel = strings.TrimSpace(clean[:idx])
		clean = strings.TrimSpace(clean[idx+2:])
		if spec.Channel == "" {
			return Spec{}, fmt.Errorf("%w: empty channel qualifier in %q", ErrInvalidSpec, clean)
		}
	}

	name, constraint, err := splitConstraint(clean)
	if err != nil {
		return Spec{}, err
	}
	spec.Name = name
	spec.Constraint = constraint
	return spec, nil
}

func parsePip(clean string) (Spec, error) {
	spec := Spec{Manager: Pip}

	if strings.HasPrefix(clean, "-e ") {
		spec.Editable = true
		clean = strings.TrimSpace(strings.TrimPrefix(clean, "-e "))
	}

	if isPathRequirement(clean) || strings.Contains(clean, "git+") {
		spec.PathRef = clean
		return spec, nil
	}
	if spec.Editable {
		return Spec{}, fmt.Errorf("%w: editable requirement %q is not a path or VCS reference", ErrInvalidSpec, clean)
	}

	// Strip extras: name[extra1,extra2]
	base := clean
	if open := strings.Index(base, "["); open >= 0 {
		end := strings.Index(base, "]")
		if end < open {
			return Spec{}, fmt.Errorf("%w: unbalanced extras in %q", ErrInvalidSpec, clean)
		}
		base = base[:open] + base[end+1:]
	}

	name, constraint, err := splitConstraint(base)
	if err != nil {
		return Spec{}, err
	}
	spec.Name = name
	spec.Constraint = constraint
	return spec, nil
}

// splitConstraint separates "numpy>=1.21,<2" into a name and a version
// constraint expression, validating both halves.
func splitConstraint(s string) (name, constraint string, err error) {
	s = strings.TrimSpace(s)
	split := strings.IndexAny(s, "=<>!~ ")
	if split < 0 {
		if !nameRe.MatchString(s) {
			return "", "", fmt.Errorf("%w: bad package name %q", ErrInvalidSpec, s)
		}
		return s, "", nil
	}

	name = strings.TrimSpace(s[:split])
	constraint = strings.TrimSpace(s[split:])
	if !nameRe.MatchString(name) {
		return "", "", fmt.Errorf("%w: bad package name %q", ErrInvalidSpec, name)
	}
	for _, part := range strings.Split(constraint, ",") {
		if !constraintRe.MatchString(strings.TrimSpace(part)) {
			return "", "", fmt.Errorf("%w: bad version constraint %q", ErrInvalidSpec, part)
		}
	}
	return name, constraint, nil
}

func isPathRequirement(s string) bool {
	return strings.HasPrefix(s, ".") || strings.HasPrefix(s, "/") ||
		strings.HasPrefix(s, "~") || driveRe.MatchString(s) ||
		strings.HasPrefix(s, "file://")
}

// MatchesByName reports whether two specs refer to the same package.
func (s Spec) MatchesByName(other Spec) bool {
	return s.Name != "" && s.Name == other.Name
}

// IsPath reports whether the spec is a path or VCS reference rather than a
// registry requirement.
func (s Spec) IsPath() bool {
	return s.PathRef != ""
}

// String renders the canonical manifest form of the spec.
func (s Spec) String() string {
	if s.IsPath() {
		if s.Editable {
			return "-e " + s.PathRef
		}
		return s.PathRef
	}
	out := s.Name + s.Constraint
	if s.Manager == Conda && s.Channel != "" && s.Channel != DefaultChannel {
		out = s.Channel + "::" + out
	}
	return out
}

// Satisfies reports whether version satisfies the spec's constraint. An empty
// constraint always matches. Exact range-evaluation semantics belong to the
// package managers themselves; this uses semver rules with conda-style
// operators translated, and callers treat evaluation errors as advisory.
func (s Spec) Satisfies(version string) (bool, error) {
	if s.Constraint == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(translateConstraint(s.Constraint))
	if err != nil {
		return false, fmt.Errorf("unsupported constraint %q: %w", s.Constraint, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("unsupported version %q: %w", version, err)
	}
	return c.Check(v), nil
}

func translateConstraint(constraint string) string {
	parts := strings.Split(constraint, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		part = strings.ReplaceAll(part, "==", "=")
		part = strings.ReplaceAll(part, "~=", "~")
		parts[i] = part
	}
	return strings.Join(parts, ",")
}
