package lockfile

import (
	"fmt"
	"os"
	"strings"

	"github.com/conda-ops/conda-ops/internal/pkgspec"
	"github.com/conda-ops/conda-ops/internal/utils/file"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

// ExplicitHeader precedes the conda explicit manifest, matching the format
// emitted by `conda list --explicit`.
const ExplicitHeader = "# This file may be used to create an environment using:\n" +
	"# $ conda create --name <env> --file <this file>\n" +
	"@EXPLICIT\n"

// ExplicitLine renders the entry as one line of an explicit install
// manifest: the conda form is `<url>#<hash>` (the stored URL already carries
// the hash fragment), the pip form `<name> @ <url> --hash=<alg>:<digest>`.
// Entries without the required provenance return ErrMissingProvenance.
func (e Entry) ExplicitLine() (string, error) {
	switch e.Manager {
	case pkgspec.Conda:
		if e.URL == "" {
			return "", fmt.Errorf("%w: conda package %s has no URL", ErrMissingProvenance, e.Name)
		}
		return e.URL, nil
	case pkgspec.Pip:
		if e.URL == "" || e.Hash == nil || e.Hash.Digest == "" {
			return "", fmt.Errorf("%w: pip package %s has no URL or hash", ErrMissingProvenance, e.Name)
		}
		return fmt.Sprintf("%s @ %s --hash=%s:%s", e.Name, e.URL, e.Hash.Algorithm, e.Hash.Digest), nil
	}
	return "", fmt.Errorf("%w: unknown manager %q for package %s", ErrMissingProvenance, e.Manager, e.Name)
}

// ExplicitFiles holds the rendered explicit manifests: the conda manifest,
// the hash-verified pip manifest, and the unverified no-hash pip manifest for
// editable/VCS entries.
type ExplicitFiles struct {
	Conda  string
	Pip    string
	Nohash string
}

// RenderExplicit renders the explicit manifests from the lock file. It is
// pure: the same lock file always yields byte-identical output.
func (f *File) RenderExplicit() ExplicitFiles {
	log := logger.Logger()
	out := ExplicitFiles{Conda: ExplicitHeader}

	var pip, nohash strings.Builder
	for _, e := range f.Entries {
		line, err := e.ExplicitLine()
		switch e.Manager {
		case pkgspec.Conda:
			if err != nil {
				log.Warnf("Skipping conda package %s in explicit manifest: %v", e.Name, err)
				continue
			}
			out.Conda += line + "\n"
		case pkgspec.Pip:
			if err != nil {
				// Editable and VCS installs have no registry provenance;
				// they go to the unverified file.
				log.Debugf("Routing pip package %s to the no-hash manifest: %v", e.Name, err)
				nohash.WriteString(e.Name)
				if e.Version != "" {
					nohash.WriteString("==" + e.Version)
				}
				nohash.WriteString("\n")
				continue
			}
			pip.WriteString(line + "\n")
		}
	}
	out.Pip = pip.String()
	out.Nohash = nohash.String()
	return out
}

// WriteExplicit renders and writes the explicit manifests to the given
// paths. The conda manifest is always written; the pip and no-hash manifests
// only when they have content (a stale file from a previous render is
// removed). It returns the paths written.
func (f *File) WriteExplicit(condaPath, pipPath, nohashPath string) ([]string, error) {
	rendered := f.RenderExplicit()

	written := []string{condaPath}
	if err := file.AtomicWrite(condaPath, []byte(rendered.Conda), 0o644); err != nil {
		return nil, fmt.Errorf("writing conda explicit manifest: %w", err)
	}

	for _, part := range []struct {
		path    string
		content string
	}{
		{pipPath, rendered.Pip},
		{nohashPath, rendered.Nohash},
	} {
		if part.content == "" {
			_ = os.Remove(part.path)
			continue
		}
		if err := file.AtomicWrite(part.path, []byte(part.content), 0o644); err != nil {
			return nil, fmt.Errorf("writing explicit manifest %s: %w", part.path, err)
		}
		written = append(written, part.path)
	}
	return written, nil
}
