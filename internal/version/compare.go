package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// CheckCompatibility checks whether a previously recorded engine version is
// compatible with the running engine. Returns nil if compatible.
//
// Compatibility rules:
//   - If either version is "main" (development build), the check is skipped
//   - Major versions must match exactly
//   - Minor versions must match exactly
//   - Patch versions can differ (e.g., 1.2.0 is compatible with 1.2.5)
func CheckCompatibility(engineVersion, recordedVersion string) error {
	engineVersion = strings.TrimPrefix(engineVersion, "v")
	recordedVersion = strings.TrimPrefix(recordedVersion, "v")

	if engineVersion == "main" || recordedVersion == "main" {
		return nil
	}

	engine, err := semver.NewVersion(engineVersion)
	if err != nil {
		return errors.Wrapf(errors.KindEngineIncompatible, engineVersion, err,
			"invalid engine version %q", engineVersion)
	}

	recorded, err := semver.NewVersion(recordedVersion)
	if err != nil {
		return errors.Wrapf(errors.KindEngineIncompatible, recordedVersion, err,
			"invalid recorded version %q", recordedVersion)
	}

	if engine.Major() != recorded.Major() {
		return errors.Newf(errors.KindEngineIncompatible, recordedVersion,
			"major version mismatch: engine is %d.x.x but run was recorded with %d.x.x",
			engine.Major(), recorded.Major())
	}

	if engine.Minor() != recorded.Minor() {
		return errors.Newf(errors.KindEngineIncompatible, recordedVersion,
			"minor version mismatch: engine is %d.%d.x but run was recorded with %d.%d.x",
			engine.Major(), engine.Minor(), recorded.Major(), recorded.Minor())
	}

	return nil
}
