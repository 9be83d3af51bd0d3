// Package version exposes build metadata stamped via -ldflags, falling back
// to whatever the Go toolchain embedded.
package version

import (
	"runtime/debug"
)

var (
	// These will be set via -ldflags during build
	GitRepo   string
	GitBranch string
	GitCommit string
	BuildTime string
)

// Info collects all version information for one build.
type Info struct {
	GitRepo   string           `json:"gitRepo,omitempty"`
	GitBranch string           `json:"gitBranch,omitempty"`
	GitCommit string           `json:"gitCommit,omitempty"`
	BuildTime string           `json:"buildTime,omitempty"`
	BuildInfo *debug.BuildInfo `json:"buildInfo,omitempty"`
}

// Get returns the version information.
func Get() Info {
	ret := Info{
		GitRepo:   GitRepo,
		GitBranch: GitBranch,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	}
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		ret.BuildInfo = buildInfo
	}
	return ret
}
