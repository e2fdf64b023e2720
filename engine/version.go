package engine

import (
	"github.com/Masterminds/semver/v3"
)

const version = "0.3.0"

var parsedVersion = semver.MustParse(version)

// Version returns the version of this layer.
func Version() *semver.Version {
	return parsedVersion
}

// CheckVersion reports whether Version satisfies constraint,
// e.g. ">= 0.2, < 1".
func CheckVersion(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, err
	}
	return c.Check(parsedVersion), nil
}
