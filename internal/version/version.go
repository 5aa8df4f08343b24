// Package version reports this binary's own build provenance for
// --version output, the way go.dev/doc/go1.18's embedded build info
// lets any binary introspect its own module version without an
// -ldflags dance at build time.
package version

import "runtime/debug"

// Read returns a one-line "rsync27  protocol version 27" banner
// followed by the module version and VCS revision, when the Go
// toolchain embedded build info (always true for binaries built with
// `go build`/`go install` from a module).
func Read() string {
	const banner = "rsync27  protocol version 27"
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return banner
	}
	rev := "unknown"
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			rev = s.Value
			break
		}
	}
	return banner + "  (" + bi.Main.Version + ", " + rev + ")"
}
