// Package main is the single-binary entrypoint for binvis.
package main

import "github.com/binvis/binvis/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
