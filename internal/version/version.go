// Package version records the release string stamped into snapshots and
// reported by the command-line entry points.
package version

// Version is overridable at link time:
//
//	-ldflags "-X github.com/pulseboard/pulseboard/internal/version.Version=v1.2.3"
var Version = "0.1.0"
