package env

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conda-ops/conda-ops/internal/conda"
	"github.com/conda-ops/conda-ops/internal/config"
	"github.com/conda-ops/conda-ops/internal/lockfile"
	"github.com/conda-ops/conda-ops/internal/utils/file"
)

type fakeClient struct {
	envsDir  string
	envs     map[string]bool
	active   string
	explicit []string
	listing  []conda.ListedPackage
	ops      []string
	interop  bool
}

func newFakeClient(envsDir string) *fakeClient {
	return &fakeClient{envsDir: envsDir, envs: map[string]bool{}}
}

func (f *fakeClient) Info(context.Context) (conda.Info, error) {
	info := conda.Info{
		Platform:         "linux-64",
		ActivePrefixName: f.active,
		EnvsDirs:         []string{f.envsDir},
	}
	for name := range f.envs {
		info.Envs = append(info.Envs, filepath.Join(f.envsDir, name))
	}
	return info, nil
}

func (f *fakeClient) ListJSON(context.Context, string) ([]conda.ListedPackage, error) {
	return f.listing, nil
}

func (f *fakeClient) ListExplicit(context.Context, string) ([]string, error) {
	return f.explicit, nil
}

func (f *fakeClient) Create(context.Context, string, string, []string) (string, error) {
	return "", nil
}

func (f *fakeClient) CreateFromFile(_ context.Context, prefix, explicitFile string) (string, error) {
	f.ops = append(f.ops, "create-from-file "+filepath.Base(explicitFile))
	f.envs[filepath.Base(prefix)] = true
	return "", nil
}

func (f *fakeClient) Install(context.Context, string, string, []string) (string, error) {
	return "", nil
}

func (f *fakeClient) InstallFromFile(_ context.Context, _, explicitFile string) (string, error) {
	f.ops = append(f.ops, "install-from-file "+filepath.Base(explicitFile))
	return "", nil
}

func (f *fakeClient) PipInstall(_ context.Context, _, requirementsFile string) (string, error) {
	f.ops = append(f.ops, "pip-install "+filepath.Base(requirementsFile))
	return "", nil
}

func (f *fakeClient) RemoveAll(_ context.Context, prefix string) error {
	f.ops = append(f.ops, "remove-all")
	delete(f.envs, filepath.Base(prefix))
	return nil
}

func (f *fakeClient) SetPipInterop(_ context.Context, enabled bool) error {
	f.interop = enabled
	return nil
}

const condaURL = "https://conda.anaconda.org/defaults/linux-64/python-3.11.5-0.conda#abc123"

func lockContents() *lockfile.File {
	return &lockfile.File{Entries: []lockfile.Entry{
		{
			Name:     "python",
			Version:  "3.11.5",
			Manager:  "conda",
			Channel:  "defaults",
			Platform: "linux-64",
			URL:      condaURL,
		},
		{
			Name:     "requests",
			Version:  "2.31.0",
			Manager:  "pip",
			Channel:  "pypi",
			Platform: "linux-64",
			URL:      "https://files.pythonhosted.org/packages/requests-2.31.0-py3-none-any.whl",
			Hash:     &lockfile.Hash{Algorithm: "sha256", Digest: "feedface"},
			Filename: "requests-2.31.0-py3-none-any.whl",
		},
	}}
}

func setup(t *testing.T) (*config.Config, *fakeClient, *Manager) {
	t.Helper()

	cfg, err := config.Init(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, lockContents().Save(cfg.Paths.Lockfile))

	fake := newFakeClient(filepath.Join(t.TempDir(), "envs"))
	return cfg, fake, &Manager{Config: cfg, Client: fake}
}

func TestCreate(t *testing.T) {
	cfg, fake, m := setup(t)

	require.NoError(t, m.Create(context.Background()))

	assert.Equal(t, []string{
		"create-from-file " + filepath.Base(cfg.Paths.ExplicitLockfile),
		"pip-install " + filepath.Base(cfg.Paths.PipLockfile),
	}, fake.ops)
	assert.True(t, fake.interop)
	assert.True(t, fake.envs[cfg.Settings.EnvName])
	assert.True(t, file.Exists(cfg.Paths.ExplicitLockfile))
	assert.True(t, file.Exists(cfg.Paths.PipLockfile))
}

func TestCreateRefusesExistingEnv(t *testing.T) {
	cfg, fake, m := setup(t)
	fake.envs[cfg.Settings.EnvName] = true

	assert.Error(t, m.Create(context.Background()))
	assert.Empty(t, fake.ops)
}

func TestCreateMissingLockfile(t *testing.T) {
	cfg, err := config.Init(t.TempDir())
	require.NoError(t, err)
	m := &Manager{Config: cfg, Client: newFakeClient(t.TempDir())}

	assert.Error(t, m.Create(context.Background()))
}

func TestCreateWithoutPipEntries(t *testing.T) {
	cfg, fake, m := setup(t)
	lf := &lockfile.File{Entries: lockContents().Entries[:1]}
	require.NoError(t, lf.Save(cfg.Paths.Lockfile))

	require.NoError(t, m.Create(context.Background()))

	assert.Equal(t, []string{"create-from-file " + filepath.Base(cfg.Paths.ExplicitLockfile)}, fake.ops)
	assert.False(t, file.Exists(cfg.Paths.PipLockfile))
}

func TestInstall(t *testing.T) {
	cfg, fake, m := setup(t)
	fake.envs[cfg.Settings.EnvName] = true

	require.NoError(t, m.Install(context.Background()))

	assert.Equal(t, []string{
		"install-from-file " + filepath.Base(cfg.Paths.ExplicitLockfile),
		"pip-install " + filepath.Base(cfg.Paths.PipLockfile),
	}, fake.ops)
}

func TestDelete(t *testing.T) {
	cfg, fake, m := setup(t)
	fake.envs[cfg.Settings.EnvName] = true

	require.NoError(t, m.Delete(context.Background()))
	assert.False(t, fake.envs[cfg.Settings.EnvName])
}

func TestDeleteMissingEnvIsNoop(t *testing.T) {
	_, fake, m := setup(t)

	require.NoError(t, m.Delete(context.Background()))
	assert.Empty(t, fake.ops)
}

func TestDeleteRefusesActiveEnv(t *testing.T) {
	cfg, fake, m := setup(t)
	fake.envs[cfg.Settings.EnvName] = true
	fake.active = cfg.Settings.EnvName

	assert.Error(t, m.Delete(context.Background()))
	assert.True(t, fake.envs[cfg.Settings.EnvName])
}

func TestRegenerate(t *testing.T) {
	cfg, fake, m := setup(t)
	fake.envs[cfg.Settings.EnvName] = true

	require.NoError(t, m.Regenerate(context.Background()))

	assert.Equal(t, "remove-all", fake.ops[0])
	assert.True(t, fake.envs[cfg.Settings.EnvName])
}

func TestRegenerateRefusesActiveEnv(t *testing.T) {
	cfg, fake, m := setup(t)
	fake.envs[cfg.Settings.EnvName] = true
	fake.active = cfg.Settings.EnvName

	assert.Error(t, m.Regenerate(context.Background()))
}

func TestCheck(t *testing.T) {
	cfg, fake, m := setup(t)

	ok, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	fake.envs[cfg.Settings.EnvName] = true
	ok, err = m.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	fake.active = cfg.Settings.EnvName
	ok, err = m.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchesLockInSync(t *testing.T) {
	cfg, fake, m := setup(t)
	fake.envs[cfg.Settings.EnvName] = true
	fake.explicit = []string{condaURL}
	fake.listing = []conda.ListedPackage{
		{Name: "python", Version: "3.11.5", Channel: "defaults"},
		{Name: "requests", Version: "2.31.0", Channel: "pypi"},
	}

	drift, err := m.MatchesLock(context.Background())
	require.NoError(t, err)
	assert.True(t, drift.OK)
}

func TestMatchesLockDrift(t *testing.T) {
	cfg, fake, m := setup(t)
	fake.envs[cfg.Settings.EnvName] = true
	extra := "https://conda.anaconda.org/defaults/linux-64/zlib-1.2.13-0.conda#def456"
	fake.explicit = []string{extra}
	fake.listing = []conda.ListedPackage{
		{Name: "zlib", Version: "1.2.13", Channel: "defaults"},
		{Name: "requests", Version: "2.32.0", Channel: "pypi"},
		{Name: "flask", Version: "3.0.2", Channel: "pypi"},
	}

	drift, err := m.MatchesLock(context.Background())
	require.NoError(t, err)
	assert.False(t, drift.OK)
	assert.Equal(t, []string{extra}, drift.CondaInEnvOnly)
	assert.Equal(t, []string{condaURL}, drift.CondaInLockOnly)
	assert.Equal(t, []string{"flask"}, drift.PipInEnvOnly)
	require.Len(t, drift.PipVersionDiffs, 1)
	assert.Equal(t, VersionDiff{Name: "requests", LockVersion: "2.31.0", EnvVersion: "2.32.0"}, drift.PipVersionDiffs[0])
	assert.Empty(t, drift.PipInLockOnly)
}
