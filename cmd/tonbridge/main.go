// Package main provides the entrypoint for the tonbridge CLI.
package main

import (
	"fmt"
	"os"

	"tonbridge.dev/go/tonbridge/internal/cli"
)

var version = "dev"

func main() {
	cli.SetVersion(version)
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
