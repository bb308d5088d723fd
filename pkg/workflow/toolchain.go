package workflow

import (
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

var datedChannelPattern = regexp.MustCompile(`^(nightly|beta)-\d{4}-\d{2}-\d{2}$`)

// IsValidChannel reports whether channel names a toolchain release track:
// stable, beta, nightly, a dated nightly/beta, or a version like 1.75 or 1.75.0.
func IsValidChannel(channel string) bool {
	switch channel {
	case "stable", "beta", "nightly":
		return true
	}
	if datedChannelPattern.MatchString(channel) {
		return true
	}
	return semver.IsValid(canonicalVersion(channel))
}

// IsUnstableChannel reports whether channel tracks the unstable line.
func IsUnstableChannel(channel string) bool {
	return channel == "nightly" || strings.HasPrefix(channel, "nightly-")
}

func canonicalVersion(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
