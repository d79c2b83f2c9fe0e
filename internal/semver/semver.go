// Package semver checks module versions and dependency constraints.
//
// Module versions are strict MAJOR.MINOR.PATCH with optional pre-release and
// build metadata. Constraints use the Masterminds syntax: "^1.2.0", "~1.4",
// ">=1.0.0 <2.0.0".
package semver

import (
	"fmt"

	mm "github.com/Masterminds/semver/v3"
)

// Validate reports whether version is a strict semantic version.
func Validate(version string) error {
	if _, err := mm.StrictNewVersion(version); err != nil {
		return fmt.Errorf("semver: version %q: %w", version, err)
	}
	return nil
}

// ValidateConstraint reports whether raw parses as a constraint.
func ValidateConstraint(raw string) error {
	_, err := constraint(raw)
	return err
}

func constraint(raw string) (*mm.Constraints, error) {
	if raw == "" {
		raw = "*"
	}
	c, err := mm.NewConstraint(raw)
	if err != nil {
		return nil, fmt.Errorf("semver: constraint %q: %w", raw, err)
	}
	return c, nil
}

// Check reports whether version satisfies raw. An empty constraint matches
// any valid version.
func Check(version, raw string) (bool, error) {
	v, err := mm.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("semver: version %q: %w", version, err)
	}
	c, err := constraint(raw)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

// Highest returns the index of the highest entry of versions satisfying raw.
// Unparseable entries are ignored; of equal versions the first wins.
func Highest(raw string, versions []string) (int, bool) {
	c, err := constraint(raw)
	if err != nil {
		return -1, false
	}
	best := -1
	var top *mm.Version
	for i, s := range versions {
		v, err := mm.NewVersion(s)
		if err != nil || !c.Check(v) {
			continue
		}
		if top == nil || v.GreaterThan(top) {
			best, top = i, v
		}
	}
	return best, best >= 0
}
