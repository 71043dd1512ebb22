package utils

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Version is set at build time with -ldflags "-X iot-ingestion/backend/pkg/utils.Version=v1.2.3".
//
//nolint:gochecknoglobals // Overridden by the linker
var Version = "v0.0.0-dev"

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	Modified  bool   `json:"modified"`
	GoVersion string `json:"goVersion"`
}

//nolint:gochecknoglobals // Computed once
var buildInfo = sync.OnceValue(func() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	info.GoVersion = bi.GoVersion

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.time":
			info.BuildTime = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}

	return info
})

// GetBuildInfo returns the cached build information.
func GetBuildInfo() BuildInfo {
	return buildInfo()
}

// GetVersionShort returns "<version> (<commit>)".
func GetVersionShort() string {
	info := GetBuildInfo()

	return fmt.Sprintf("%s (%s)", info.Version, shortCommit(info))
}

// GetBuildVersion returns the short version followed by the build time.
func GetBuildVersion() string {
	info := GetBuildInfo()

	return fmt.Sprintf("%s built at %s", GetVersionShort(), info.BuildTime)
}

func shortCommit(info BuildInfo) string {
	commit := info.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}

	if info.Modified {
		commit += "-dirty"
	}

	return commit
}
