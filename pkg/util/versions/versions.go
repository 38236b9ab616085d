package versions

import (
	"fmt"

	"github.com/blang/semver"
)

// CalculateFeatureCompatibilityVersion derives the "major.minor"
// feature compatibility version from a full server version string.
// Servers older than 3.4 predate FCV; those, like unparseable inputs,
// yield an empty string.
func CalculateFeatureCompatibilityVersion(versionStr string) string {
	version, err := semver.Make(versionStr)
	if err != nil {
		return ""
	}
	if version.LT(semver.MustParse("3.4.0")) {
		return ""
	}
	return fmt.Sprintf("%d.%d", version.Major, version.Minor)
}
