// Package manifest reads, edits, validates and splits the human-edited
// requirements file (environment.yml). The file holds a mixed dependency
// list: bare or channel-qualified conda specs plus one nested map keyed
// "pip" holding pip requirements.
package manifest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conda-ops/conda-ops/internal/pkgspec"
	"github.com/conda-ops/conda-ops/internal/utils/file"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// Manifest is the parsed requirements file.
type Manifest struct {
	Name         string
	Channels     []string
	ChannelOrder []string
	CondaDeps    []string
	PipDeps      []string
}

type rawManifest struct {
	Name         string    `yaml:"name"`
	Channels     []string  `yaml:"channels,omitempty"`
	ChannelOrder []string  `yaml:"channel-order,omitempty"`
	Dependencies yaml.Node `yaml:"dependencies"`
}

// Default returns the minimal manifest created at project initialization.
func Default(envName string) *Manifest {
	return &Manifest{
		Name:         envName,
		Channels:     []string{pkgspec.DefaultChannel},
		ChannelOrder: []string{pkgspec.DefaultChannel},
		CondaDeps:    []string{"pip", "python"},
	}
}

// Load reads and parses the requirements file at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading requirements file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing requirements file: %w", err)
	}

	m := &Manifest{
		Name:         raw.Name,
		Channels:     raw.Channels,
		ChannelOrder: raw.ChannelOrder,
	}

	for _, node := range raw.Dependencies.Content {
		switch node.Kind {
		case yaml.ScalarNode:
			m.CondaDeps = append(m.CondaDeps, node.Value)
		case yaml.MappingNode:
			var section map[string][]string
			if err := node.Decode(&section); err != nil {
				return nil, fmt.Errorf("parsing nested dependency section: %w", err)
			}
			pip, ok := section[string(pkgspec.Pip)]
			if !ok || len(section) != 1 {
				return nil, fmt.Errorf("unexpected nested dependency section (only a pip section is supported)")
			}
			m.PipDeps = append(m.PipDeps, pip...)
		default:
			return nil, fmt.Errorf("unexpected dependency entry of kind %d", node.Kind)
		}
	}
	return m, nil
}

// Save writes the manifest back to path. The pip section, when present, is
// kept at the head of the dependency list; conda dependencies are sorted.
func (m *Manifest) Save(path string) error {
	deps := make([]interface{}, 0, len(m.CondaDeps)+1)
	if len(m.PipDeps) > 0 {
		pip := append([]string(nil), m.PipDeps...)
		sort.Strings(pip)
		deps = append(deps, map[string][]string{string(pkgspec.Pip): pip})
	}
	conda := append([]string(nil), m.CondaDeps...)
	sort.Strings(conda)
	for _, dep := range conda {
		deps = append(deps, dep)
	}

	// An ordered struct keeps name first, the conventional shape of the file.
	doc := struct {
		Name         string        `yaml:"name"`
		Channels     []string      `yaml:"channels"`
		ChannelOrder []string      `yaml:"channel-order"`
		Dependencies []interface{} `yaml:"dependencies"`
	}{m.Name, m.Channels, m.ChannelOrder, deps}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding requirements file: %w", err)
	}
	return file.AtomicWrite(path, data, 0o644)
}

// Create writes the default manifest to path unless one already exists.
func Create(path, envName string) error {
	if file.Exists(path) {
		logger.Logger().Infof("Requirements file %s already exists", path)
		return nil
	}
	return Default(envName).Save(path)
}

// EffectiveChannelOrder returns the channel order with the defaults channel
// implied first and the pip stage appended last.
func (m *Manifest) EffectiveChannelOrder() []string {
	order := append([]string(nil), m.ChannelOrder...)
	if len(order) == 0 {
		order = []string{pkgspec.DefaultChannel}
	}
	if !contains(order, pkgspec.DefaultChannel) {
		order = append([]string{pkgspec.DefaultChannel}, order...)
	}
	return append(order, string(pkgspec.Pip))
}

// CondaChannelOrder is EffectiveChannelOrder without the trailing pip stage.
func (m *Manifest) CondaChannelOrder() []string {
	order := m.EffectiveChannelOrder()
	return order[:len(order)-1]
}

// Add inserts packages into the manifest under the given channel ("" means
// defaults, "pip" means the pip section). Existing requirements with the same
// name are replaced. A new conda channel is appended to the channel order.
func (m *Manifest) Add(packages []string, channel string) error {
	log := logger.Logger()

	specs, err := cleanPackageArgs(packages, channel)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		condaKept := m.CondaDeps[:0]
		for _, dep := range m.CondaDeps {
			existing, err := pkgspec.Parse(dep, pkgspec.Conda, "")
			if err == nil && existing.MatchesByName(spec) {
				log.Warnf("Package %s is already required as %s; replacing it", spec.Name, dep)
				continue
			}
			condaKept = append(condaKept, dep)
		}
		m.CondaDeps = condaKept

		pipKept := m.PipDeps[:0]
		for _, dep := range m.PipDeps {
			existing, err := pkgspec.Parse(dep, pkgspec.Pip, "")
			if err == nil && existing.MatchesByName(spec) {
				log.Warnf("Package %s is already required as pip::%s; replacing it", spec.Name, dep)
				continue
			}
			pipKept = append(pipKept, dep)
		}
		m.PipDeps = pipKept

		switch channel {
		case string(pkgspec.Pip):
			m.PipDeps = append(m.PipDeps, spec.String())
		case "", pkgspec.DefaultChannel:
			m.CondaDeps = append(m.CondaDeps, spec.String())
			if spec.Channel != "" && spec.Channel != pkgspec.DefaultChannel && !contains(m.ChannelOrder, spec.Channel) {
				m.ChannelOrder = append(m.ChannelOrder, spec.Channel)
			}
		default:
			if spec.Channel != "" && spec.Channel != channel {
				return fmt.Errorf("package %s is qualified with channel %s but channel %s was requested", spec.Name, spec.Channel, channel)
			}
			m.CondaDeps = append(m.CondaDeps, channel+"::"+spec.Name+spec.Constraint)
			if !contains(m.ChannelOrder, channel) {
				m.ChannelOrder = append(m.ChannelOrder, channel)
			}
		}
	}

	sort.Strings(m.CondaDeps)
	sort.Strings(m.PipDeps)
	return nil
}

// Remove deletes packages from the manifest by name, from both the conda and
// pip sections, and drops channels that no longer hold any requirement.
func (m *Manifest) Remove(names []string) error {
	log := logger.Logger()

	drop := make(map[string]bool, len(names))
	for _, name := range names {
		drop[strings.TrimSpace(name)] = true
	}

	condaKept := m.CondaDeps[:0]
	for _, dep := range m.CondaDeps {
		spec, err := pkgspec.Parse(dep, pkgspec.Conda, "")
		if err == nil && drop[spec.Name] {
			if spec.String() != spec.Name {
				log.Warnf("Removing %s from requirements", dep)
			}
			continue
		}
		condaKept = append(condaKept, dep)
	}
	m.CondaDeps = condaKept

	pipKept := m.PipDeps[:0]
	for _, dep := range m.PipDeps {
		spec, err := pkgspec.Parse(dep, pkgspec.Pip, "")
		if err == nil && drop[spec.Name] {
			if spec.String() != spec.Name {
				log.Warnf("Removing %s from requirements", dep)
			}
			continue
		}
		pipKept = append(pipKept, dep)
	}
	m.PipDeps = pipKept

	// Drop channels no longer referenced by any qualified requirement.
	inUse := map[string]bool{}
	for _, dep := range m.CondaDeps {
		if spec, err := pkgspec.Parse(dep, pkgspec.Conda, ""); err == nil && spec.Channel != "" {
			inUse[spec.Channel] = true
		}
	}
	newOrder := m.ChannelOrder[:0]
	for _, channel := range m.ChannelOrder {
		if channel == pkgspec.DefaultChannel || inUse[channel] {
			newOrder = append(newOrder, channel)
		}
	}
	m.ChannelOrder = newOrder

	return nil
}

// cleanPackageArgs validates and canonicalizes package arguments, splitting
// combined "python numpy" strings and rejecting duplicates.
func cleanPackageArgs(packages []string, channel string) ([]pkgspec.Spec, error) {
	manager := pkgspec.Conda
	if channel == string(pkgspec.Pip) {
		manager = pkgspec.Pip
	}

	var split []string
	for _, pkg := range packages {
		split = append(split, strings.Fields(pkg)...)
	}

	var specs []pkgspec.Spec
	var invalid []string
	seen := map[string]bool{}
	var duplicates []string
	for _, pkg := range split {
		spec, err := pkgspec.Parse(pkg, manager, "")
		if err != nil {
			invalid = append(invalid, pkg)
			continue
		}
		if seen[spec.Name] {
			duplicates = append(duplicates, spec.Name)
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: %s", pkgspec.ErrInvalidSpec, strings.Join(invalid, " "))
	}
	if len(duplicates) > 0 {
		return nil, fmt.Errorf("packages specified more than once: %s", strings.Join(duplicates, " "))
	}
	return specs, nil
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
