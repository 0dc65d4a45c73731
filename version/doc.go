// Package version reports build information of flux binaries.
//
// Version, commit and build time are set at compile time via -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/flux/version.Version=1.0.0"
//
// Missing values are filled from the VCS stamps the Go toolchain embeds.
package version
