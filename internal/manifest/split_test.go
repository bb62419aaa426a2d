package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	opsDir := t.TempDir()
	m, err := Load(writeManifest(t, sampleManifest))
	require.NoError(t, err)

	order, err := m.Split(opsDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"defaults", "conda-forge"}, order)

	orderData, err := os.ReadFile(OrderIncludePath(opsDir))
	require.NoError(t, err)
	assert.Equal(t, "defaults conda-forge", string(orderData))

	defaultsData, err := os.ReadFile(ChannelFilePath(opsDir, "defaults"))
	require.NoError(t, err)
	assert.Contains(t, string(defaultsData), "python>=3.10")
	assert.Contains(t, string(defaultsData), "numpy")
	assert.NotContains(t, string(defaultsData), "pylint")

	forgeData, err := os.ReadFile(ChannelFilePath(opsDir, "conda-forge"))
	require.NoError(t, err)
	// channel qualifier is stripped in the per-channel file
	assert.Equal(t, "pylint", strings.TrimSpace(string(forgeData)))

	pipData, err := os.ReadFile(PipRequirementsPath(opsDir))
	require.NoError(t, err)
	assert.Equal(t, "requests==2.31.0", strings.TrimSpace(string(pipData)))

	sdistData, err := os.ReadFile(SdistRequirementsPath(opsDir))
	require.NoError(t, err)
	assert.Equal(t, "-e ./src/mypkg", strings.TrimSpace(string(sdistData)))
}

func TestSplitRejectsUnknownChannel(t *testing.T) {
	m := &Manifest{
		Name:         "proj",
		ChannelOrder: []string{"defaults"},
		CondaDeps:    []string{"bioconda::samtools"},
	}
	_, err := m.Split(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bioconda")
}

func TestSplitEmptyChannelStillWritesFile(t *testing.T) {
	opsDir := t.TempDir()
	m := &Manifest{
		Name:         "proj",
		ChannelOrder: []string{"defaults", "conda-forge"},
		CondaDeps:    []string{"python"},
	}
	_, err := m.Split(opsDir)
	require.NoError(t, err)

	data, err := os.ReadFile(ChannelFilePath(opsDir, "conda-forge"))
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(string(data)))
}

func TestSplitNoPipSection(t *testing.T) {
	opsDir := t.TempDir()
	m := &Manifest{Name: "proj", CondaDeps: []string{"python"}}
	_, err := m.Split(opsDir)
	require.NoError(t, err)

	assert.NoFileExists(t, PipRequirementsPath(opsDir))
	assert.NoFileExists(t, SdistRequirementsPath(opsDir))
}

func TestCleanupSplit(t *testing.T) {
	opsDir := t.TempDir()
	m, err := Load(writeManifest(t, sampleManifest))
	require.NoError(t, err)

	order, err := m.Split(opsDir)
	require.NoError(t, err)

	CleanupSplit(opsDir, order)
	entries, err := os.ReadDir(opsDir)
	require.NoError(t, err)
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != "" {
			t.Errorf("scratch file %s survived cleanup", entry.Name())
		}
	}
}
