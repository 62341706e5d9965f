// Package version provides build and version information for tiller.
package version

// Version is the current release version of tiller.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/tillerbot/tiller/internal/version.Version=x.y.z"
var Version = "0.1.0"
