// Package main is the single-binary entrypoint for the taskmesh node.
package main

import "github.com/taskmesh-network/taskmesh/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
