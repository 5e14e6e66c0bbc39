// Package buildinfo exposes the SDK's version string, set via ldflags at build time.
package buildinfo

import "fmt"

const (
	sdkVersionDefault = "devel"
	gitRevisionDefault = "devel"
)

var (
	// SDKVersion and GitRevision are overridden at build time via -ldflags.
	SDKVersion  = sdkVersionDefault
	GitRevision = gitRevisionDefault

	// VersionRevision is the combined "<version>-<revision>" string used
	// anywhere the SDK identifies itself (e.g. the demo CLI's --version flag).
	VersionRevision = func() string {
		version := sdkVersionDefault
		revision := gitRevisionDefault
		if SDKVersion != "" {
			version = SDKVersion
		}
		if GitRevision != "" {
			revision = GitRevision
		}
		return fmt.Sprintf("%s-%s", version, revision)
	}()
)
