// SPDX-License-Identifier: MIT
//
// Package build holds the build information embedded at link time: the
// application name, build timestamp, Git commit hash, version and a unique
// build identifier. Development builds without linker flags report
// "unknown" for whatever was not set.
package build

import "fmt"

// ldFlags holds build-time information that is injected during compilation.
// The fields are populated via -ldflags during the build process, for example:
//
//	go build -ldflags "-X bandcast/internal/build.buildName=bandcast -X bandcast/internal/build.buildVersion=0.1.0"
type ldFlags struct {
	Name        string // Application name
	Description string // One line summary for --help
	Time        string // Build timestamp
	Commit      string // Git commit hash
	Version     string // Semantic version
	Uuid        string // Unique build identifier
}

const (
	defaultName        = "bandcast"
	defaultDescription = "Stream per-band loudness of an audio source to TCP clients"
	unknown            = "unknown"
)

// Package-level variables for build information.
// These are populated by -ldflags during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildUuid    string
	buildFlags   = newFlags()
)

func newFlags() *ldFlags {
	return &ldFlags{
		Name:        defaultName,
		Description: defaultDescription,
		Time:        unknown,
		Commit:      unknown,
		Version:     unknown,
		Uuid:        unknown,
	}
}

// Initialize copies build information from the ldflags variables into
// buildFlags. Flags that were not set keep their defaults. It returns the
// names of the missing flags so main can mention a development build.
func Initialize() []string {
	*buildFlags = *newFlags()

	var missing []string
	set := func(dst *string, value, name string) {
		if value == "" {
			missing = append(missing, name)
			return
		}
		*dst = value
	}
	set(&buildFlags.Name, buildName, "name")
	set(&buildFlags.Time, buildTime, "time")
	set(&buildFlags.Commit, buildCommit, "commit")
	set(&buildFlags.Version, buildVersion, "version")
	set(&buildFlags.Uuid, buildUuid, "uuid")
	return missing
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}

// String formats the build information for the version command.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, build %s)", f.Name, f.Version, f.Commit, f.Time, f.Uuid)
}
