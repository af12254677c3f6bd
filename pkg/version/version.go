// Package version exposes the running lensd build's identity, derived
// entirely from runtime/debug.BuildInfo — Go 1.18+ embeds VCS info (commit,
// dirty-tree flag) into the binary automatically, so no -ldflags are needed.
//
// Usage:
//
//	version.GitCommit  // "a3f8c2d1" or "dev"
//	version.Dirty      // true when built from a working tree with local changes
//	version.Full()     // "lens/a3f8c2d1", "lens/a3f8c2d1-dirty", or "lens/dev"
package version

import "runtime/debug"

// AppName is the application name used in version strings and protocol handshakes.
const AppName = "lens"

// GitCommit is the short git commit hash (8 chars) from build info.
// Set to "dev" when build info is unavailable (e.g., `go test`, non-git builds).
var GitCommit = initGitCommit()

// Dirty is true when the binary was built from a working tree with
// uncommitted changes — a build clients and operators should treat as
// less traceable than a commit-pinned release, surfaced on the health
// endpoint so a deployment accidentally running a dirty build is visible
// without having to inspect the binary directly.
var Dirty = initDirty()

func buildSetting(key string) (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value, s.Value != ""
		}
	}
	return "", false
}

func initGitCommit() string {
	rev, ok := buildSetting("vcs.revision")
	if !ok {
		return "dev"
	}
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

func initDirty() bool {
	modified, ok := buildSetting("vcs.modified")
	return ok && modified == "true"
}

// Full returns "lens/<commit>" for use in user-agent strings, logging,
// protocol handshakes, etc., with a "-dirty" suffix when Dirty is true.
func Full() string {
	full := AppName + "/" + GitCommit
	if Dirty {
		full += "-dirty"
	}
	return full
}
