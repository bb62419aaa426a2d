// Package config holds the resolved paths and settings of a conda-ops
// project. A Config is constructed once and passed by reference; it is never
// mutated after construction.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conda-ops/conda-ops/internal/utils/file"
)

const (
	OpsDirName     = ".conda-ops"
	ConfigFileName = "config.yml"
)

// ErrNotInitialized is returned by Load when no project directory is found.
var ErrNotInitialized = errors.New("no conda-ops project found")

// ErrAlreadyInitialized is returned by Init when the project directory exists.
var ErrAlreadyInitialized = errors.New("conda-ops project already initialized")

// Paths are the resolved file locations of a project, all inside the ops
// directory.
type Paths struct {
	OpsDir           string
	Requirements     string
	Lockfile         string
	ExplicitLockfile string
	PipLockfile      string
	NohashLockfile   string
	Condarc          string
	LogFile          string
}

// Settings are the persisted project settings.
type Settings struct {
	EnvName string `yaml:"env_name"`
}

type Config struct {
	Paths    Paths
	Settings Settings
}

type configFile struct {
	Settings Settings `yaml:"settings"`
}

func derivePaths(opsDir string) Paths {
	return Paths{
		OpsDir:           opsDir,
		Requirements:     filepath.Join(opsDir, "environment.yml"),
		Lockfile:         filepath.Join(opsDir, "lockfile.json"),
		ExplicitLockfile: filepath.Join(opsDir, "lockfile.explicit"),
		PipLockfile:      filepath.Join(opsDir, "lockfile.pypi"),
		NohashLockfile:   filepath.Join(opsDir, "lockfile.nohash"),
		Condarc:          filepath.Join(opsDir, ".condarc"),
		LogFile:          filepath.Join(opsDir, "conda-ops.log"),
	}
}

// Init creates the .conda-ops directory and config file under projectDir. The
// environment name defaults to the project directory's basename, lowercased.
// It does not create the requirements file or the managed .condarc.
func Init(projectDir string) (*Config, error) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolving project directory %q: %w", projectDir, err)
	}

	opsDir := filepath.Join(absDir, OpsDirName)
	if file.Exists(opsDir) {
		existing, loadErr := Load(absDir)
		if loadErr != nil {
			return nil, fmt.Errorf("%w at %s, but its config is unreadable: %v", ErrAlreadyInitialized, opsDir, loadErr)
		}
		return existing, ErrAlreadyInitialized
	}
	if err := os.MkdirAll(opsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ops directory %q: %w", opsDir, err)
	}

	cfg := &Config{
		Paths:    derivePaths(opsDir),
		Settings: Settings{EnvName: strings.ToLower(filepath.Base(absDir))},
	}
	if err := cfg.save(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load finds the nearest .conda-ops directory at or above startDir and loads
// its config file.
func Load(startDir string) (*Config, error) {
	opsDir, err := findOpsDir(startDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(opsDir, ConfigFileName))
	if err != nil {
		return nil, fmt.Errorf("reading project config: %w", err)
	}
	var parsed configFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing project config: %w", err)
	}
	if parsed.Settings.EnvName == "" {
		return nil, fmt.Errorf("project config at %s has no env_name", opsDir)
	}

	return &Config{Paths: derivePaths(opsDir), Settings: parsed.Settings}, nil
}

// Check verifies the existence and consistency of the project directory and
// config file. It returns false with remediation logging left to the caller.
func (c *Config) Check() error {
	if c == nil {
		return ErrNotInitialized
	}
	if !file.Exists(c.Paths.OpsDir) {
		return fmt.Errorf("%w: ops directory %s is missing", ErrNotInitialized, c.Paths.OpsDir)
	}
	if !file.Exists(filepath.Join(c.Paths.OpsDir, ConfigFileName)) {
		return fmt.Errorf("%w: config file is missing from %s", ErrNotInitialized, c.Paths.OpsDir)
	}
	if c.Settings.EnvName == "" {
		return fmt.Errorf("project config has no env_name")
	}
	return nil
}

func (c *Config) save() error {
	data, err := yaml.Marshal(configFile{Settings: c.Settings})
	if err != nil {
		return fmt.Errorf("encoding project config: %w", err)
	}
	return file.AtomicWrite(filepath.Join(c.Paths.OpsDir, ConfigFileName), data, 0o644)
}

// findOpsDir searches startDir and its ancestors for the ops directory.
func findOpsDir(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", startDir, err)
	}
	for {
		candidate := filepath.Join(dir, OpsDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w at or above %s", ErrNotInitialized, startDir)
		}
		dir = parent
	}
}
