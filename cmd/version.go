// -- cmd/version.go --
package cmd

// Version is the daemon version, overridden at build time via
// -ldflags "-X github.com/xkilldash9x/chaser/cmd.Version=...".
var Version = "0.1.0-dev"
