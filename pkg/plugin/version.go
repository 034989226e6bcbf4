package plugin

import (
	"regexp"

	"github.com/Masterminds/semver/v3"
)

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?$`)

// ValidVersion reports whether v looks like major.minor.patch.
func ValidVersion(v string) bool {
	return versionPattern.MatchString(v)
}

// ParseVersion parses v. Only full major.minor.patch versions are accepted.
func ParseVersion(v string) (*semver.Version, error) {
	if !ValidVersion(v) {
		return nil, newError(CodeInvalid, "invalid version %q", v)
	}
	parsed, err := semver.StrictNewVersion(v)
	if err != nil {
		return nil, wrapError(CodeInvalid, err, "invalid version %q", v)
	}
	return parsed, nil
}

// CompareVersions compares two version strings with semver precedence and
// returns -1, 0 or 1. Unparseable versions compare as equal.
func CompareVersions(a, b string) int {
	va, err := ParseVersion(a)
	if err != nil {
		return 0
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0
	}
	return va.Compare(vb)
}
