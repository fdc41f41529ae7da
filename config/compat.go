package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/orizon-lang/orizon-gc/env"
)

// RuntimeInterfaceConstraint is the host runtime interface range this
// substrate supports.
const RuntimeInterfaceConstraint = ">= 1.2.0, < 3.0.0"

// CheckRuntimeCompatibility gates startup on the host runtime's
// reported interface version.
func CheckRuntimeCompatibility(version string) error {
	constraint, err := semver.NewConstraint(RuntimeInterfaceConstraint)
	if err != nil {
		return fmt.Errorf("%w: bad constraint %q: %v", env.ErrInitializationError, RuntimeInterfaceConstraint, err)
	}
	parsed, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: host interface version %q: %v", env.ErrUnsupportedPlatform, version, err)
	}
	if !constraint.Check(parsed) {
		return fmt.Errorf("%w: host interface version %s outside %s",
			env.ErrUnsupportedPlatform, version, RuntimeInterfaceConstraint)
	}
	return nil
}
