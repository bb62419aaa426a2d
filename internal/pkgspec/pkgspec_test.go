package pkgspec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConda(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		channel string
		want    Spec
	}{
		{
			name:  "bare name",
			input: "numpy",
			want:  Spec{Name: "numpy", Manager: Conda},
		},
		{
			name:  "exact version",
			input: "numpy==1.24.2",
			want:  Spec{Name: "numpy", Constraint: "==1.24.2", Manager: Conda},
		},
		{
			name:  "single equal normalized",
			input: "numpy=1.24.2",
			want:  Spec{Name: "numpy", Constraint: "==1.24.2", Manager: Conda},
		},
		{
			name:  "range",
			input: "python>=3.10,<3.12",
			want:  Spec{Name: "python", Constraint: ">=3.10,<3.12", Manager: Conda},
		},
		{
			name:  "channel qualified",
			input: "conda-forge::pylint",
			want:  Spec{Name: "pylint", Manager: Conda, Channel: "conda-forge"},
		},
		{
			name:  "channel qualified single equal normalized",
			input: "conda-forge::pylint=2.17",
			want:  Spec{Name: "pylint", Constraint: "==2.17", Manager: Conda, Channel: "conda-forge"},
		},
		{
			name:    "explicit channel argument",
			input:   "pylint",
			channel: "conda-forge",
			want:    Spec{Name: "pylint", Manager: Conda, Channel: "conda-forge"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, Conda, tt.channel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Spec
	}{
		{
			name:  "bare name",
			input: "requests",
			want:  Spec{Name: "requests", Manager: Pip},
		},
		{
			name:  "pinned",
			input: "requests==2.31.0",
			want:  Spec{Name: "requests", Constraint: "==2.31.0", Manager: Pip},
		},
		{
			name:  "extras stripped",
			input: "requests[security]>=2.0",
			want:  Spec{Name: "requests", Constraint: ">=2.0", Manager: Pip},
		},
		{
			name:  "editable path",
			input: "-e ./src/mypkg",
			want:  Spec{Manager: Pip, Editable: true, PathRef: "./src/mypkg"},
		},
		{
			name:  "vcs reference",
			input: "git+https://github.com/org/repo.git",
			want:  Spec{Manager: Pip, PathRef: "git+https://github.com/org/repo.git"},
		},
		{
			name:  "absolute path",
			input: "/opt/wheels/pkg",
			want:  Spec{Manager: Pip, PathRef: "/opt/wheels/pkg"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, Pip, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseManagerInference(t *testing.T) {
	spec, err := Parse("requests", "", "pip")
	require.NoError(t, err)
	assert.Equal(t, Pip, spec.Manager)

	spec, err = Parse("numpy", "", "")
	require.NoError(t, err)
	assert.Equal(t, Conda, spec.Manager)
}

func TestParseInvalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"bad name with spaces==1.0",
		"numpy==",
		"::numpy",
		"numpy>>1.0",
	}
	for _, input := range inputs {
		_, err := Parse(input, Conda, "")
		assert.ErrorIs(t, err, ErrInvalidSpec, "input %q", input)
	}
}

func TestParseRegistryPathExclusive(t *testing.T) {
	reg, err := Parse("numpy==1.0", Conda, "")
	require.NoError(t, err)
	assert.False(t, reg.IsPath())
	assert.NotEmpty(t, reg.Name)

	path, err := Parse("-e ./here", Pip, "")
	require.NoError(t, err)
	assert.True(t, path.IsPath())
	assert.Empty(t, path.Name)
	assert.Empty(t, path.Constraint)
}

func TestString(t *testing.T) {
	tests := []struct {
		input   string
		manager Manager
		want    string
	}{
		{"conda-forge::pylint", Conda, "conda-forge::pylint"},
		{"numpy=1.24.2", Conda, "numpy==1.24.2"},
		{"-e ./src/mypkg", Pip, "-e ./src/mypkg"},
		{"requests>=2.0", Pip, "requests>=2.0"},
	}
	for _, tt := range tests {
		spec, err := Parse(tt.input, tt.manager, "")
		require.NoError(t, err)
		assert.Equal(t, tt.want, spec.String())
	}
}

func TestMatchesByName(t *testing.T) {
	a, _ := Parse("numpy==1.0", Conda, "")
	b, _ := Parse("conda-forge::numpy", Conda, "")
	c, _ := Parse("scipy", Conda, "")
	assert.True(t, a.MatchesByName(b))
	assert.False(t, a.MatchesByName(c))
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		spec    string
		version string
		want    bool
	}{
		{"numpy==1.24.2", "1.24.2", true},
		{"numpy==1.24.2", "1.24.3", false},
		{"numpy>=1.21,<2", "1.26.4", true},
		{"numpy>=1.21,<2", "2.0.0", false},
		{"numpy", "0.0.1", true},
	}
	for _, tt := range tests {
		spec, err := Parse(tt.spec, Conda, "")
		require.NoError(t, err)
		ok, err := spec.Satisfies(tt.version)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "%s vs %s", tt.spec, tt.version)
	}
}

func TestSatisfiesUnparsableVersion(t *testing.T) {
	spec, err := Parse("somepkg>=1.0", Conda, "")
	require.NoError(t, err)
	_, err = spec.Satisfies("not-a-version")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidSpec))
}

func TestManagerValid(t *testing.T) {
	assert.True(t, Conda.Valid())
	assert.True(t, Pip.Valid())
	assert.False(t, Manager("npm").Valid())
}
