package config

// Build metadata, overridden by the release pipeline through -ldflags:
//
//	go build -ldflags "-X cityflow/internal/config.version=1.2.3 \
//	    -X cityflow/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X cityflow/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// A plain go build or go run keeps the placeholders below, which is how the
// API and the daily job report a local binary.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the build metadata of the running binary. LoadConfig
// stores it in Config.Build; every command logs it at startup and the health
// endpoint reports the version.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}
