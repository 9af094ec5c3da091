// Package version carries build metadata set through -ldflags.
package version

var (
	// Version is the current application version.
	Version = "v1.0.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// Name is the driver name announced to hosts and used as the service name.
const Name = "uc-intg-emby"
