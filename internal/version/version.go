package version

// Package metadata, replaced via -ldflags at release build time.
var (
	Version   = "0.1.0"
	Toolname  = "conda-ops"
	BuildDate = "unknown"
	CommitSHA = "unknown"
)
