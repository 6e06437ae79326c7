// Package version carries the engine identity and the compatibility gate
// run metadata is checked against during preflight.
package version

// EngineName identifies the engine in run metadata and lineage strings.
const EngineName = "tradescan"

// Version is the current engine version. This value is set at build time
// using ldflags:
// -ldflags "-X github.com/kitealert7-source/tradescan/internal/version.Version=1.2.3"
// The default value "main" indicates a development build.
var Version = "1.2.0"

// GetVersion returns the current engine version.
func GetVersion() string {
	return Version
}
