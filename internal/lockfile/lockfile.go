// Package lockfile models the machine-generated lock file: one resolved
// package record per package per platform, carrying enough provenance (source
// URL, content hash) to reproduce the environment exactly.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/conda-ops/conda-ops/internal/pkgspec"
	"github.com/conda-ops/conda-ops/internal/utils/file"
)

// ErrMissingProvenance reports a lock entry that cannot be rendered into a
// verified explicit line. This is expected for editable and VCS-sourced pip
// packages, which are routed to the unverified no-hash file instead.
var ErrMissingProvenance = errors.New("lock entry is missing provenance")

// Hash is an algorithm-tagged content hash.
type Hash struct {
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

// Entry is one resolved package. The manager and channel must agree: a pip
// entry carries the pypi channel and vice versa. Entries are immutable once
// written; regeneration replaces them wholesale.
type Entry struct {
	Name     string          `json:"name"`
	Version  string          `json:"version"`
	Manager  pkgspec.Manager `json:"manager"`
	Channel  string          `json:"channel"`
	Platform string          `json:"platform,omitempty"`
	URL      string          `json:"url,omitempty"`
	Hash     *Hash           `json:"hash,omitempty"`

	// Conda URL reconstruction fields.
	BaseURL   string `json:"base_url,omitempty"`
	DistName  string `json:"dist_name,omitempty"`
	Extension string `json:"extension,omitempty"`

	// Pip distribution filename.
	Filename string `json:"filename,omitempty"`
}

// CheckConsistency reports whether the entry is internally consistent. For
// conda entries with reconstruction fields the canonical URL rebuilt from
// them must match the stored URL; the package name and version must appear as
// substrings of the URL either way. Detects stale or hand-edited entries.
func (e Entry) CheckConsistency() bool {
	switch e.Manager {
	case pkgspec.Pip:
		if e.Channel != pkgspec.PipChannel {
			return false
		}
	case pkgspec.Conda:
		if e.Channel == pkgspec.PipChannel {
			return false
		}
	default:
		return false
	}

	if e.URL == "" {
		// Nothing further to cross-check.
		return true
	}
	if e.Name != "" && !strings.Contains(e.URL, e.Name) {
		return false
	}
	if e.Version != "" && !strings.Contains(e.URL, e.Version) {
		return false
	}
	// The defaults channel is served from repo URLs that do not repeat the
	// channel name, so only qualified channels are checked.
	if e.Manager == pkgspec.Conda && e.Channel != "" && e.Channel != pkgspec.DefaultChannel {
		if !strings.Contains(e.URL, e.Channel) {
			return false
		}
	}

	if e.Manager == pkgspec.Conda && e.BaseURL != "" && e.DistName != "" {
		reconstructed := strings.Join([]string{e.BaseURL, e.Platform, e.DistName + e.Extension}, "/")
		if e.Hash != nil {
			reconstructed += "#" + e.Hash.Digest
		}
		if strings.TrimSpace(e.URL) != strings.TrimSpace(reconstructed) {
			return false
		}
	}
	return true
}

// File is the ordered collection of lock entries. It is the sole source of
// truth for what should be installed; it is replaced wholesale on
// regeneration, never patched.
type File struct {
	Entries []Entry
}

// Load reads a lock file from path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing lock file %s: %w", path, err)
	}
	return &File{Entries: entries}, nil
}

// Save writes the lock file with write-then-rename semantics so a crashed
// run never leaves a truncated lock file behind.
func (f *File) Save(path string) error {
	data, err := json.MarshalIndent(f.Entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding lock file: %w", err)
	}
	return file.AtomicWrite(path, append(data, '\n'), 0o644)
}

// Merge installs the cumulative lock segment at segmentPath as the canonical
// lock file. Later stage segments subsume earlier ones, so the last
// successful segment is taken wholesale rather than unioned.
func Merge(segmentPath, lockPath string) error {
	segment, err := Load(segmentPath)
	if err != nil {
		return fmt.Errorf("loading lock segment: %w", err)
	}
	return segment.Save(lockPath)
}

// Get returns the first entry with the given name.
func (f *File) Get(name string) (Entry, bool) {
	for _, e := range f.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// ByManager returns the entries belonging to the given manager, in order.
func (f *File) ByManager(manager pkgspec.Manager) []Entry {
	var out []Entry
	for _, e := range f.Entries {
		if e.Manager == manager {
			out = append(out, e)
		}
	}
	return out
}
