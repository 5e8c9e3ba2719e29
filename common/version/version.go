// Package version holds build metadata injected with -ldflags:
//
//	go build -ldflags "-X github.com/bdobrica/Ely/common/version.Version=v1.2.0 \
//	    -X github.com/bdobrica/Ely/common/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import "fmt"

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info is the one-line form printed by --version and logged at startup.
func Info() string {
	return fmt.Sprintf("%s (%s) built at %s", Version, GitCommit, BuildTime)
}

// Fields returns the build metadata as slog key/value pairs.
func Fields() []any {
	return []any{"version", Version, "commit", GitCommit, "built", BuildTime}
}
