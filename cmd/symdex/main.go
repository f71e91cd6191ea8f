// Package main provides the entry point for the symdex CLI.
package main

import (
	"os"

	"github.com/symdex/symdex/cmd/symdex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
