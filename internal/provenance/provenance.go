// Package provenance recovers download provenance for pip-installed
// packages. Pip's installer reports which distribution files it resolved but
// not where they came from; the upstream package index is queried to turn
// each filename into a canonical URL and digest.
package provenance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/conda-ops/conda-ops/internal/lockfile"
	"github.com/conda-ops/conda-ops/internal/pkgspec"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// Record is the recovered provenance for one installed distribution.
// URL and SHA256 are empty when the index had no matching release file.
type Record struct {
	Name     string
	Version  string
	Filename string
	URL      string
	SHA256   string
}

// Metadata resolves a distribution filename to its download URL and digest.
type Metadata interface {
	PackageInfo(ctx context.Context, name, version, filename string) (url, sha256 string, err error)
}

const defaultIndexURL = "https://pypi.org/pypi"

// IndexClient queries a PyPI-compatible JSON metadata endpoint.
type IndexClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewIndexClient returns a client against the public package index.
func NewIndexClient() *IndexClient {
	return &IndexClient{
		BaseURL:    defaultIndexURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type releaseFile struct {
	Filename string            `json:"filename"`
	URL      string            `json:"url"`
	Digests  map[string]string `json:"digests"`
}

type releaseMetadata struct {
	URLs []releaseFile `json:"urls"`
}

// PackageInfo fetches release metadata for a package version and returns the
// URL and sha256 of the release file matching the installed filename.
func (c *IndexClient) PackageInfo(ctx context.Context, name, version, filename string) (string, string, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/json", c.BaseURL, name, version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", "", fmt.Errorf("building metadata request for %s: %w", name, err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetching metadata for %s %s: %w", name, version, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("metadata endpoint %s returned %s", endpoint, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("reading metadata for %s: %w", name, err)
	}
	var meta releaseMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", "", fmt.Errorf("parsing metadata for %s: %w", name, err)
	}

	for _, release := range meta.URLs {
		if release.Filename == filename {
			return release.URL, release.Digests["sha256"], nil
		}
	}
	return "", "", fmt.Errorf("no release file %s found for %s %s", filename, name, version)
}

var (
	segmentSplit   = regexp.MustCompile(`Collecting |Requirement already `)
	firstTokenExpr = regexp.MustCompile(`(?m)^(\S+)`)
	cachedFileExpr = regexp.MustCompile(`Using cached (\S+)`)
	downloadExpr   = regexp.MustCompile(`Downloading (\S+)`)
	satisfiedExpr  = regexp.MustCompile(`satisfied: (\S+)`)
)

// Extract parses a verbose pip installation transcript into provenance
// records keyed by package name. Freshly downloaded or cached distributions
// are resolved through the metadata index; packages pip reported as already
// satisfied are carried over from the prior lock file. Unrecognized
// transcript segments are logged and skipped, never fatal.
func Extract(ctx context.Context, transcript string, prior *lockfile.File, meta Metadata) map[string]Record {
	log := logger.Logger()
	records := make(map[string]Record)

	segments := segmentSplit.Split(transcript, -1)
	if len(segments) < 2 {
		return records
	}
	for _, segment := range segments[1:] {
		switch {
		case strings.Contains(segment, "Using cached"):
			if rec, ok := resolveFetched(ctx, segment, cachedFileExpr, meta); ok {
				records[rec.Name] = rec
			}
		case strings.Contains(segment, "Downloading"):
			if rec, ok := resolveFetched(ctx, segment, downloadExpr, meta); ok {
				records[rec.Name] = rec
			}
		case strings.Contains(segment, "satisfied: "):
			if rec, ok := resolveSatisfied(segment, prior); ok {
				records[rec.Name] = rec
			}
		default:
			log.Warnf("Unrecognized pip installer output segment, skipping")
			log.Debug(segment)
		}
	}
	return records
}

// resolveFetched handles segments where pip fetched a distribution file. The
// version is taken from the distribution filename, which always carries it as
// the second dash-separated field.
func resolveFetched(ctx context.Context, segment string, fileExpr *regexp.Regexp, meta Metadata) (Record, bool) {
	log := logger.Logger()

	name, ok := requirementName(segment)
	if !ok {
		return Record{}, false
	}
	fileMatch := fileExpr.FindStringSubmatch(segment)
	if fileMatch == nil {
		log.Errorf("No distribution filename found for %s in installer output", name)
		return Record{}, false
	}
	filename := fileMatch[1]

	parts := strings.Split(filename, "-")
	if len(parts) < 2 {
		log.Errorf("Cannot determine version of %s from filename %s", name, filename)
		return Record{}, false
	}
	version := parts[1]

	rec := Record{Name: name, Version: version, Filename: filename}
	url, sha, err := meta.PackageInfo(ctx, name, version, filename)
	if err != nil {
		log.Errorf("Could not resolve provenance of %s %s: %v", name, version, err)
		return rec, true
	}
	rec.URL = url
	rec.SHA256 = sha
	return rec, true
}

// resolveSatisfied handles packages pip left untouched, reusing whatever
// provenance the prior lock file recorded for them.
func resolveSatisfied(segment string, prior *lockfile.File) (Record, bool) {
	log := logger.Logger()

	match := satisfiedExpr.FindStringSubmatch(segment)
	if match == nil {
		log.Errorf("No package name found in already-satisfied installer output")
		return Record{}, false
	}
	spec, err := pkgspec.Parse(match[1], pkgspec.Pip, pkgspec.PipChannel)
	if err != nil {
		log.Errorf("Cannot parse already-satisfied package %q: %v", match[1], err)
		return Record{}, false
	}
	if prior == nil {
		log.Warnf("Package %s already satisfied but no prior lock data exists", spec.Name)
		return Record{}, false
	}
	entry, ok := prior.Get(spec.Name)
	if !ok {
		log.Warnf("Package %s already satisfied but absent from prior lock data", spec.Name)
		return Record{}, false
	}
	rec := Record{
		Name:     entry.Name,
		Version:  entry.Version,
		Filename: entry.Filename,
		URL:      entry.URL,
	}
	if entry.Hash != nil && entry.Hash.Algorithm == "sha256" {
		rec.SHA256 = entry.Hash.Digest
	}
	return rec, true
}

func requirementName(segment string) (string, bool) {
	match := firstTokenExpr.FindStringSubmatch(segment)
	if match == nil {
		logger.Logger().Errorf("No package name found in installer output segment")
		return "", false
	}
	spec, err := pkgspec.Parse(match[1], pkgspec.Pip, pkgspec.PipChannel)
	if err != nil {
		logger.Logger().Errorf("Cannot parse package requirement %q: %v", match[1], err)
		return "", false
	}
	return spec.Name, true
}
