// Package locker turns the requirements manifest into a fully pinned lock
// file by staging a real environment through the channel order, one channel
// at a time, and snapshotting the cumulative result after each stage.
package locker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/conda-ops/conda-ops/internal/conda"
	"github.com/conda-ops/conda-ops/internal/config"
	"github.com/conda-ops/conda-ops/internal/lockfile"
	"github.com/conda-ops/conda-ops/internal/manifest"
	"github.com/conda-ops/conda-ops/internal/pkgspec"
	"github.com/conda-ops/conda-ops/internal/provenance"
	"github.com/conda-ops/conda-ops/internal/utils/file"
	"github.com/conda-ops/conda-ops/internal/utils/logger"
)

const pipStage = "pip"

// scratchEnvProbeLimit bounds the numeric suffix search for a free
// scratch environment name.
const scratchEnvProbeLimit = 100

// StageError reports a failed channel stage. LastGood is empty when the very
// first stage failed and no packages were locked at all.
type StageError struct {
	Channel  string
	LastGood string
	Err      error
}

func (e *StageError) Error() string {
	if e.LastGood == "" {
		return fmt.Sprintf("channel %s failed before any channel succeeded: %v", e.Channel, e.Err)
	}
	return fmt.Sprintf("channel %s failed, last good channel was %s: %v", e.Channel, e.LastGood, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Locker drives staged lock file generation against one project.
type Locker struct {
	Config *config.Config
	Client conda.Client
	Meta   provenance.Metadata
}

// New returns a Locker using the production conda client and package index.
func New(cfg *config.Config) *Locker {
	return &Locker{
		Config: cfg,
		Client: &conda.CLI{Condarc: cfg.Paths.Condarc},
		Meta:   provenance.NewIndexClient(),
	}
}

// SegmentPath is the per-channel intermediate lock segment location.
func SegmentPath(opsDir, channel string) string {
	return filepath.Join(opsDir, fmt.Sprintf(".ops.lock.%s.json", channel))
}

// Generate rebuilds the lock file from the requirements manifest. With
// regenerate set, resolution runs in a throwaway scratch environment that is
// removed afterwards regardless of outcome; otherwise the managed
// environment is updated in place.
func (l *Locker) Generate(ctx context.Context, regenerate bool) error {
	log := logger.Logger()
	cfg := l.Config
	opsDir := cfg.Paths.OpsDir

	if !file.Exists(cfg.Paths.Requirements) {
		log.Errorf("Requirements file does not exist: %s", cfg.Paths.Requirements)
		log.Info("To create a minimal default requirements file:")
		log.Info(">>> conda-ops init")
		return fmt.Errorf("requirements file %s does not exist", cfg.Paths.Requirements)
	}
	m, err := manifest.Load(cfg.Paths.Requirements)
	if err != nil {
		return fmt.Errorf("loading requirements: %w", err)
	}

	info, err := l.Client.Info(ctx)
	if err != nil {
		return err
	}

	envName := cfg.Settings.EnvName
	if regenerate {
		envName, err = scratchEnvName(info, cfg.Settings.EnvName)
		if err != nil {
			return err
		}
		log.Debugf("Using environment %s to generate the lockfile", envName)
	}
	prefix, err := conda.Prefix(info, envName)
	if err != nil {
		return err
	}

	log.Info("Generating per-channel requirements files")
	condaOrder, err := m.Split(opsDir)
	if err != nil {
		return err
	}
	order := append([]string{}, condaOrder...)
	havePip := file.Exists(manifest.PipRequirementsPath(opsDir))
	if havePip {
		order = append(order, pipStage)
	}

	if regenerate {
		defer l.removeScratchEnv(ctx, envName, prefix)
	}

	envExists := conda.EnvExists(info, envName)
	bar := progressbar.NewOptions(len(order),
		progressbar.OptionSetDescription("locking channels"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(200*time.Millisecond),
	)
	lastGood := ""
	lastSegment := ""
	for i, channel := range order {
		log.Debugf("Installing from channel %s", channel)
		bar.Describe(channel)
		var segment string
		var stageErr error
		if channel == pipStage {
			segment, stageErr = l.pipStep(ctx, prefix, info.Platform)
		} else {
			segment, envExists, stageErr = l.condaStep(ctx, prefix, envExists, channel, info.Platform)
		}
		if stageErr != nil {
			if i == 0 {
				log.Error("No channels were successfully locked")
			} else {
				log.Warnf("Last successful channel was %s", lastGood)
			}
			return &StageError{Channel: channel, LastGood: lastGood, Err: stageErr}
		}
		lastGood = channel
		if segment != "" {
			lastSegment = segment
		}
		_ = bar.Add(1)
	}

	if lastSegment == "" {
		return fmt.Errorf("no packages were locked from %s", cfg.Paths.Requirements)
	}
	log.Debugf("Updating lock file from %s", lastSegment)
	if err := lockfile.Merge(lastSegment, cfg.Paths.Lockfile); err != nil {
		return err
	}

	l.cleanupScratchFiles(condaOrder, havePip)
	fmt.Printf("Lockfile %s generated.\n", cfg.Paths.Lockfile)
	return nil
}

// condaStep installs one channel's requirements and snapshots the cumulative
// environment state into that channel's lock segment. The returned envExists
// reflects whether the environment exists after the step.
func (l *Locker) condaStep(ctx context.Context, prefix string, envExists bool, channel, platform string) (string, bool, error) {
	log := logger.Logger()
	opsDir := l.Config.Paths.OpsDir

	log.Infof("Generating the intermediate lock file for channel %s", channel)

	data, err := os.ReadFile(manifest.ChannelFilePath(opsDir, channel))
	if err != nil {
		return "", envExists, fmt.Errorf("reading channel requirements for %s: %w", channel, err)
	}
	packages := strings.Fields(string(data))
	if len(packages) == 0 {
		log.Warn("No packages to be installed at this step")
		if !envExists {
			return "", false, nil
		}
	} else if envExists {
		if _, err := l.Client.Install(ctx, prefix, channel, packages); err != nil {
			return "", envExists, err
		}
	} else {
		log.Debugf("Creating environment at %s", prefix)
		if _, err := l.Client.Create(ctx, prefix, channel, packages); err != nil {
			return "", envExists, err
		}
		envExists = true
	}

	segment := SegmentPath(opsDir, channel)
	if _, err := l.lockEnv(ctx, prefix, platform, segment, nil); err != nil {
		return "", envExists, err
	}
	return segment, envExists, nil
}

// pipStep installs the flattened pip requirements, recovers their download
// provenance from the installer transcript and snapshots the cumulative
// state. Source-dist and editable requirements are split out earlier and are
// not yet locked here.
func (l *Locker) pipStep(ctx context.Context, prefix, platform string) (string, error) {
	log := logger.Logger()
	cfg := l.Config
	opsDir := cfg.Paths.OpsDir

	if err := l.Client.SetPipInterop(ctx, true); err != nil {
		return "", err
	}
	log.Info("Generating the intermediate lock file for pip")

	transcript, err := l.Client.PipInstall(ctx, prefix, manifest.PipRequirementsPath(opsDir))
	if err != nil {
		return "", err
	}

	var prior *lockfile.File
	if file.Exists(cfg.Paths.Lockfile) {
		prior, err = lockfile.Load(cfg.Paths.Lockfile)
		if err != nil {
			return "", err
		}
	}
	records := provenance.Extract(ctx, transcript, prior, l.Meta)

	segment := SegmentPath(opsDir, pipStage)
	if _, err := l.lockEnv(ctx, prefix, platform, segment, records); err != nil {
		return "", err
	}

	if sdists, err := os.ReadFile(manifest.SdistRequirementsPath(opsDir)); err == nil {
		if entries := strings.Fields(string(sdists)); len(entries) > 0 {
			log.Warnf("Source-dist and editable requirements are not locked yet: %v", entries)
		}
	}
	return segment, nil
}

// lockEnv snapshots the full environment contents into a lock segment. The
// structured listing supplies identity, the explicit listing supplies conda
// URLs and md5 digests, and pipRecords supplies pip provenance when present.
func (l *Locker) lockEnv(ctx context.Context, prefix, platform, segmentPath string, pipRecords map[string]provenance.Record) (*lockfile.File, error) {
	log := logger.Logger()

	listed, err := l.Client.ListJSON(ctx, prefix)
	if err != nil {
		return nil, err
	}
	explicit, err := l.Client.ListExplicit(ctx, prefix)
	if err != nil {
		return nil, err
	}
	log.Debugf("Environment to be locked with %d packages", len(listed))

	lf := &lockfile.File{}
	for _, pkg := range listed {
		entry := lockfile.Entry{
			Name:     pkg.Name,
			Version:  pkg.Version,
			Channel:  pkg.Channel,
			Platform: pkg.Platform,
			BaseURL:  pkg.BaseURL,
			DistName: pkg.DistName,
		}
		if pkg.Channel == pkgspec.PipChannel {
			entry.Manager = pkgspec.Pip
			entry.Platform = platform
			if rec, ok := pipRecords[pkg.Name]; ok {
				if rec.Version != "" && rec.Version != pkg.Version {
					return nil, fmt.Errorf("pip provenance version %s does not match installed version %s of %s",
						rec.Version, pkg.Version, pkg.Name)
				}
				entry.URL = rec.URL
				entry.Filename = rec.Filename
				if rec.SHA256 != "" {
					entry.Hash = &lockfile.Hash{Algorithm: "sha256", Digest: rec.SHA256}
				}
			}
		} else {
			entry.Manager = pkgspec.Conda
			starter := strings.Join([]string{pkg.BaseURL, pkg.Platform, pkg.DistName}, "/")
			line := findExplicitLine(explicit, starter)
			if line == "" {
				log.Warnf("No explicit URL found for %s, leaving it unpinned", pkg.DistName)
			} else {
				entry.URL = line
				withoutHash, digest, found := strings.Cut(line, "#")
				if found {
					entry.Hash = &lockfile.Hash{Algorithm: "md5", Digest: digest}
				}
				if idx := strings.Index(withoutHash, pkg.DistName); idx >= 0 {
					entry.Extension = withoutHash[idx+len(pkg.DistName):]
				}
			}
		}
		lf.Entries = append(lf.Entries, entry)
	}

	if err := lf.Save(segmentPath); err != nil {
		return nil, err
	}
	return lf, nil
}

func findExplicitLine(explicit []string, starter string) string {
	for _, line := range explicit {
		if strings.Contains(line, starter) {
			return line
		}
	}
	return ""
}

// scratchEnvName probes for an unused throwaway environment name.
func scratchEnvName(info conda.Info, envName string) (string, error) {
	base := envName + "-lockfile-generate"
	for i := 0; i < scratchEnvProbeLimit; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !conda.EnvExists(info, candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free scratch environment name found for %s", base)
}

func (l *Locker) removeScratchEnv(ctx context.Context, envName, prefix string) {
	log := logger.Logger()
	info, err := l.Client.Info(ctx)
	if err != nil {
		log.Warnf("Could not query environments while removing %s: %v", envName, err)
		return
	}
	if !conda.EnvExists(info, envName) {
		return
	}
	if err := l.Client.RemoveAll(ctx, prefix); err != nil {
		log.Warnf("Could not remove intermediate environment %s: %v", envName, err)
		return
	}
	log.Debug("Deleted intermediate environment")
}

// cleanupScratchFiles removes the per-channel requirement and lock segment
// files once the merged lock file is in place.
func (l *Locker) cleanupScratchFiles(condaOrder []string, havePip bool) {
	opsDir := l.Config.Paths.OpsDir
	manifest.CleanupSplit(opsDir, condaOrder)
	for _, channel := range condaOrder {
		_ = os.Remove(SegmentPath(opsDir, channel))
	}
	if havePip {
		_ = os.Remove(SegmentPath(opsDir, pipStage))
	}
}
