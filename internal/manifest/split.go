package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conda-ops/conda-ops/internal/pkgspec"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// Scratch file names written into the ops directory by Split and consumed by
// the staged locker. They are transient and removed after a successful run.
const (
	orderIncludeName = ".ops.channel-order.include"
	pipReqsName      = ".ops.pypi-requirements.txt"
	sdistReqsName    = ".ops.sdist-requirements.txt"
)

// OrderIncludePath is the scratch file holding the conda channel order.
func OrderIncludePath(opsDir string) string {
	return filepath.Join(opsDir, orderIncludeName)
}

// ChannelFilePath is the scratch file holding one channel's bare package list.
func ChannelFilePath(opsDir, channel string) string {
	return filepath.Join(opsDir, fmt.Sprintf(".ops.%s-environment.txt", channel))
}

// PipRequirementsPath is the scratch pip requirements file (registry specs).
func PipRequirementsPath(opsDir string) string {
	return filepath.Join(opsDir, pipReqsName)
}

// SdistRequirementsPath is the scratch file holding editable and path/VCS pip
// specs, which cannot be hash-verified.
func SdistRequirementsPath(opsDir string) string {
	return filepath.Join(opsDir, sdistReqsName)
}

// Split partitions the manifest into one scratch file per conda channel plus
// the pip requirement files, and records the conda channel order. A channel
// qualifier that does not appear in the channel order is rejected. Channels
// with no packages still get a (possibly empty) file so an empty stage is not
// mistaken for a failed one.
func (m *Manifest) Split(opsDir string) ([]string, error) {
	log := logger.Logger()

	condaOrder := m.CondaChannelOrder()
	byChannel := make(map[string][]string, len(condaOrder))
	for _, channel := range condaOrder {
		byChannel[channel] = []string{}
	}

	for _, dep := range m.CondaDeps {
		spec, err := pkgspec.Parse(dep, pkgspec.Conda, "")
		if err != nil {
			return nil, fmt.Errorf("splitting requirements: %w", err)
		}
		channel := spec.Channel
		if channel == "" {
			channel = pkgspec.DefaultChannel
		}
		if _, ok := byChannel[channel]; !ok {
			return nil, fmt.Errorf("the channel %s required for %s is not in the channel-order section of the requirements file", channel, dep)
		}
		stripped := spec
		stripped.Channel = ""
		byChannel[channel] = append(byChannel[channel], stripped.String())
	}

	if err := os.WriteFile(OrderIncludePath(opsDir), []byte(strings.Join(condaOrder, " ")), 0o644); err != nil {
		return nil, fmt.Errorf("writing channel order file: %w", err)
	}
	for _, channel := range condaOrder {
		content := strings.Join(byChannel[channel], "\n")
		if err := os.WriteFile(ChannelFilePath(opsDir, channel), []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("writing %s channel file: %w", channel, err)
		}
	}

	if len(m.PipDeps) > 0 {
		var registry, sdist []string
		for _, dep := range m.PipDeps {
			spec, err := pkgspec.Parse(dep, pkgspec.Pip, "")
			if err != nil {
				return nil, fmt.Errorf("splitting pip requirements: %w", err)
			}
			if spec.IsPath() {
				sdist = append(sdist, spec.String())
			} else {
				registry = append(registry, spec.String())
			}
		}
		if err := os.WriteFile(PipRequirementsPath(opsDir), []byte(strings.Join(registry, "\n")), 0o644); err != nil {
			return nil, fmt.Errorf("writing pip requirements file: %w", err)
		}
		if err := os.WriteFile(SdistRequirementsPath(opsDir), []byte(strings.Join(sdist, "\n")), 0o644); err != nil {
			return nil, fmt.Errorf("writing sdist requirements file: %w", err)
		}
	}

	log.Debugf("Split requirements into %d conda channel file(s), pip deps: %d", len(condaOrder), len(m.PipDeps))
	return condaOrder, nil
}

// CleanupSplit removes the scratch files written by Split. Missing files are
// ignored; a partial prior run leaves no residue behind.
func CleanupSplit(opsDir string, condaOrder []string) {
	for _, channel := range condaOrder {
		_ = os.Remove(ChannelFilePath(opsDir, channel))
	}
	_ = os.Remove(PipRequirementsPath(opsDir))
	_ = os.Remove(SdistRequirementsPath(opsDir))
	_ = os.Remove(OrderIncludePath(opsDir))
}
