// Package version reports the tagvol build. Release builds set the variables
// with -ldflags "-X github.com/Sumatoshi-tech/tagvol/pkg/version.Version=...".
package version

import (
	"fmt"
	"runtime/debug"
)

const unknown = "unknown"

// Build metadata.
var (
	Version = "dev"
	Commit  = unknown
	Date    = unknown
)

// Info is the build metadata of the running binary.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Date      string `json:"date" yaml:"date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get returns the linker-provided metadata, filling the commit and date from
// the VCS stamp embedded by the go tool when they were not set.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date, GoVersion: unknown}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	info.GoVersion = bi.GoVersion

	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}

	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.Commit == unknown:
			info.Commit = s.Value
		case s.Key == "vcs.time" && info.Date == unknown:
			info.Date = s.Value
		}
	}

	return info
}

// String formats the info as one line.
func (i Info) String() string {
	return fmt.Sprintf("tagvol %s (commit: %s, built: %s, %s)", i.Version, i.Commit, i.Date, i.GoVersion)
}
