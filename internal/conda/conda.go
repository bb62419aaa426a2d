// Package conda wraps the external conda resolver/installer as a subprocess.
// Every operation is a blocking call; a non-zero exit code is reported as an
// error with the raw stdout/stderr preserved for operator diagnosis. Stderr
// is never parsed for control decisions.
package conda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// Info is the resolver's own configuration report (`conda info --json`),
// reduced to the fields the pipeline consumes.
type Info struct {
	ActivePrefix     string   `json:"active_prefix"`
	ActivePrefixName string   `json:"active_prefix_name"`
	Platform         string   `json:"platform"`
	Envs             []string `json:"envs"`
	EnvsDirs         []string `json:"envs_dirs"`
}

// ListedPackage is one record of the structured listing
// (`conda list --json`). Pip-installed packages appear with channel "pypi".
type ListedPackage struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	BuildString string `json:"build_string"`
	Channel     string `json:"channel"`
	Platform    string `json:"platform"`
	BaseURL     string `json:"base_url"`
	DistName    string `json:"dist_name"`
}

// Client is the subprocess contract consumed by the lock pipeline and the
// environment lifecycle operations. The external resolver enforces
// at-most-one concurrent operation per environment; no additional locking is
// layered on top.
type Client interface {
	Info(ctx context.Context) (Info, error)
	ListJSON(ctx context.Context, prefix string) ([]ListedPackage, error)
	ListExplicit(ctx context.Context, prefix string) ([]string, error)
	Create(ctx context.Context, prefix, channel string, packages []string) (string, error)
	CreateFromFile(ctx context.Context, prefix, explicitFile string) (string, error)
	Install(ctx context.Context, prefix, channel string, packages []string) (string, error)
	InstallFromFile(ctx context.Context, prefix, explicitFile string) (string, error)
	// PipInstall runs pip inside the environment and returns the full
	// installation transcript as a scoped capture, owned by the caller.
	PipInstall(ctx context.Context, prefix, requirementsFile string) (string, error)
	RemoveAll(ctx context.Context, prefix string) error
	SetPipInterop(ctx context.Context, enabled bool) error
}

// CLI is the production Client backed by the conda binary. The managed
// .condarc is injected through the environment so project channel settings
// never leak from the caller's own conda configuration.
type CLI struct {
	Condarc string
}

var _ Client = (*CLI)(nil)

func (c *CLI) run(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	log := logger.Logger()

	cmd := exec.CommandContext(ctx, "conda", args...)
	cmd.Env = os.Environ()
	if c.Condarc != "" {
		cmd.Env = append(cmd.Env, "CONDARC="+c.Condarc)
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	log.Debugf("Running: conda %s", strings.Join(args, " "))
	runErr := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()
	if runErr != nil {
		log.Errorf("conda %s failed: %v", strings.Join(args, " "), runErr)
		if stdout != "" {
			log.Error(stdout)
		}
		if stderr != "" {
			log.Error(stderr)
		}
		return stdout, stderr, fmt.Errorf("conda %s: %w", args[0], runErr)
	}
	return stdout, stderr, nil
}

func (c *CLI) Info(ctx context.Context) (Info, error) {
	stdout, _, err := c.run(ctx, "info", "--json")
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		return Info{}, fmt.Errorf("parsing conda info output: %w", err)
	}
	return info, nil
}

func (c *CLI) ListJSON(ctx context.Context, prefix string) ([]ListedPackage, error) {
	stdout, _, err := c.run(ctx, "list", "--prefix", prefix, "--json")
	if err != nil {
		return nil, err
	}
	var packages []ListedPackage
	if err := json.Unmarshal([]byte(stdout), &packages); err != nil {
		return nil, fmt.Errorf("parsing conda list output: %w", err)
	}
	return packages, nil
}

// ListExplicit returns the URL lines of `conda list --explicit --md5`,
// filtered to actual package references.
func (c *CLI) ListExplicit(ctx context.Context, prefix string) ([]string, error) {
	stdout, _, err := c.run(ctx, "list", "--prefix", prefix, "--explicit", "--md5")
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(stdout, "\n") {
		if strings.Contains(line, "https") {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	return lines, nil
}

func (c *CLI) Create(ctx context.Context, prefix, channel string, packages []string) (string, error) {
	args := append([]string{"create", "--yes", "--prefix", prefix, "-c", channel}, packages...)
	stdout, _, err := c.run(ctx, args...)
	return stdout, err
}

func (c *CLI) CreateFromFile(ctx context.Context, prefix, explicitFile string) (string, error) {
	stdout, _, err := c.run(ctx, "create", "--yes", "--prefix", prefix, "--file", explicitFile)
	return stdout, err
}

func (c *CLI) Install(ctx context.Context, prefix, channel string, packages []string) (string, error) {
	args := append([]string{"install", "--yes", "--prefix", prefix, "-c", channel}, packages...)
	stdout, _, err := c.run(ctx, args...)
	return stdout, err
}

func (c *CLI) InstallFromFile(ctx context.Context, prefix, explicitFile string) (string, error) {
	stdout, _, err := c.run(ctx, "install", "--yes", "--prefix", prefix, "--file", explicitFile)
	return stdout, err
}

func (c *CLI) PipInstall(ctx context.Context, prefix, requirementsFile string) (string, error) {
	stdout, _, err := c.run(ctx, "run", "--prefix", prefix, "pip", "install", "-r", requirementsFile, "--verbose")
	return stdout, err
}

func (c *CLI) RemoveAll(ctx context.Context, prefix string) error {
	_, _, err := c.run(ctx, "remove", "--yes", "--prefix", prefix, "--all")
	return err
}

// SetPipInterop flips pip_interop_enabled in the managed .condarc so the
// resolver stays aware of pip-installed packages.
func (c *CLI) SetPipInterop(ctx context.Context, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	args := []string{"config", "--set", "pip_interop_enabled", value}
	if c.Condarc != "" {
		args = []string{"config", "--file", c.Condarc, "--set", "pip_interop_enabled", value}
	}
	_, _, err := c.run(ctx, args...)
	return err
}

// EnvExists reports whether a named environment is known to the resolver.
func EnvExists(info Info, envName string) bool {
	for _, env := range info.Envs {
		if filepath.Base(env) == envName {
			return true
		}
	}
	return false
}

// EnvActive reports whether the named environment is the caller's active one.
func EnvActive(info Info, envName string) bool {
	return info.ActivePrefixName == envName
}

// Prefix resolves the filesystem prefix for a named environment. When conda
// itself runs inside an environment the first envs dir is nested under the
// active prefix; the prefix is computed from the envs root instead.
func Prefix(info Info, envName string) (string, error) {
	if len(info.EnvsDirs) == 0 {
		return "", fmt.Errorf("conda info reported no envs directories")
	}
	envsDir := info.EnvsDirs[0]
	if info.ActivePrefix != "" && envsDir == filepath.Join(info.ActivePrefix, "envs") {
		if root, _, found := strings.Cut(envsDir, string(filepath.Separator)+"envs"); found {
			envsDir = filepath.Join(root, "envs")
		}
	}
	return filepath.Join(envsDir, envName), nil
}
