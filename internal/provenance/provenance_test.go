package provenance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conda-ops/conda-ops/internal/lockfile"
)

type fakeMetadata struct {
	calls []string
}

func (f *fakeMetadata) PackageInfo(_ context.Context, name, version, filename string) (string, string, error) {
	f.calls = append(f.calls, name)
	return fmt.Sprintf("https://files.example.org/%s", filename), "digest-" + name + "-" + version, nil
}

const sampleTranscript = `Using pip 24.0 from /opt/conda/envs/myproj/lib/python3.11/site-packages/pip
Collecting requests>=2.0
  Using cached requests-2.31.0-py3-none-any.whl (62 kB)
Collecting flask
  Downloading flask-3.0.2-py3-none-any.whl (101 kB)
Requirement already satisfied: click>=8.1 in /opt/conda/envs/myproj/lib/python3.11/site-packages (8.1.7)
Installing collected packages: requests, flask
Successfully installed flask-3.0.2 requests-2.31.0
`

func TestExtract(t *testing.T) {
	prior := &lockfile.File{Entries: []lockfile.Entry{
		{
			Name:     "click",
			Version:  "8.1.7",
			Manager:  "pip",
			Channel:  "pypi",
			URL:      "https://files.example.org/click-8.1.7-py3-none-any.whl",
			Filename: "click-8.1.7-py3-none-any.whl",
			Hash:     &lockfile.Hash{Algorithm: "sha256", Digest: "abc123"},
		},
	}}
	meta := &fakeMetadata{}

	records := Extract(context.Background(), sampleTranscript, prior, meta)
	require.Len(t, records, 3)

	cached := records["requests"]
	assert.Equal(t, "2.31.0", cached.Version)
	assert.Equal(t, "requests-2.31.0-py3-none-any.whl", cached.Filename)
	assert.Equal(t, "https://files.example.org/requests-2.31.0-py3-none-any.whl", cached.URL)
	assert.Equal(t, "digest-requests-2.31.0", cached.SHA256)

	downloaded := records["flask"]
	assert.Equal(t, "3.0.2", downloaded.Version)
	assert.Equal(t, "flask-3.0.2-py3-none-any.whl", downloaded.Filename)

	satisfied := records["click"]
	assert.Equal(t, "8.1.7", satisfied.Version)
	assert.Equal(t, "https://files.example.org/click-8.1.7-py3-none-any.whl", satisfied.URL)
	assert.Equal(t, "abc123", satisfied.SHA256)

	// the already-satisfied package must not hit the index
	assert.NotContains(t, meta.calls, "click")
}

func TestExtractEmptyTranscript(t *testing.T) {
	records := Extract(context.Background(), "nothing to do\n", nil, &fakeMetadata{})
	assert.Empty(t, records)
}

func TestExtractSatisfiedWithoutPrior(t *testing.T) {
	transcript := "Requirement already satisfied: click in /tmp (8.1.7)\n"
	records := Extract(context.Background(), transcript, nil, &fakeMetadata{})
	assert.Empty(t, records)
}

func TestIndexClientPackageInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/requests/2.31.0/json", r.URL.Path)
		fmt.Fprint(w, `{
			"urls": [
				{
					"filename": "requests-2.31.0.tar.gz",
					"url": "https://files.pythonhosted.org/source/requests-2.31.0.tar.gz",
					"digests": {"sha256": "sdist-digest"}
				},
				{
					"filename": "requests-2.31.0-py3-none-any.whl",
					"url": "https://files.pythonhosted.org/wheel/requests-2.31.0-py3-none-any.whl",
					"digests": {"sha256": "wheel-digest"}
				}
			]
		}`)
	}))
	defer server.Close()

	client := &IndexClient{BaseURL: server.URL, HTTPClient: server.Client()}
	url, sha, err := client.PackageInfo(context.Background(), "requests", "2.31.0", "requests-2.31.0-py3-none-any.whl")
	require.NoError(t, err)
	assert.Equal(t, "https://files.pythonhosted.org/wheel/requests-2.31.0-py3-none-any.whl", url)
	assert.Equal(t, "wheel-digest", sha)
}

func TestIndexClientNoMatchingFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"urls": []}`)
	}))
	defer server.Close()

	client := &IndexClient{BaseURL: server.URL, HTTPClient: server.Client()}
	_, _, err := client.PackageInfo(context.Background(), "requests", "2.31.0", "requests-2.31.0-py3-none-any.whl")
	assert.Error(t, err)
}

func TestIndexClientHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := &IndexClient{BaseURL: server.URL, HTTPClient: server.Client()}
	_, _, err := client.PackageInfo(context.Background(), "nosuchpkg", "0.0.1", "nosuchpkg-0.0.1.tar.gz")
	assert.Error(t, err)
}
