// Package main provides the entry point for the tearagsd CLI.
package main

import (
	"os"

	"github.com/tearags/tearagsd/cmd/tearagsd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
