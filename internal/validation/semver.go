// semver.go provides semantic version validation, comparison and bumping used for the
// version counters carried by registers, schemas, configurations and objects.
package validation

import (
	"fmt"

	"github.com/hashicorp/go-version"
)

// InitialVersion is the version assigned to newly created registers, schemas and objects
const InitialVersion = "0.0.1"

// ValidateSemver validates that a version string is valid semantic versioning
func ValidateSemver(versionStr string) error {
	_, err := version.NewVersion(versionStr)
	if err != nil {
		return fmt.Errorf("invalid semantic version: %w", err)
	}
	return nil
}

// CompareSemver compares two semantic versions
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareSemver(v1Str, v2Str string) (int, error) {
	v1, err := version.NewVersion(v1Str)
	if err != nil {
		return 0, fmt.Errorf("invalid version v1: %w", err)
	}

	v2, err := version.NewVersion(v2Str)
	if err != nil {
		return 0, fmt.Errorf("invalid version v2: %w", err)
	}

	return v1.Compare(v2), nil
}

// BumpPatch returns versionStr with its patch segment incremented. Pre-release
// and build metadata are dropped. An empty string yields InitialVersion.
func BumpPatch(versionStr string) (string, error) {
	if versionStr == "" {
		return InitialVersion, nil
	}
	v, err := version.NewVersion(versionStr)
	if err != nil {
		return "", fmt.Errorf("invalid semantic version: %w", err)
	}
	seg := v.Segments()
	for len(seg) < 3 {
		seg = append(seg, 0)
	}
	return fmt.Sprintf("%d.%d.%d", seg[0], seg[1], seg[2]+1), nil
}
