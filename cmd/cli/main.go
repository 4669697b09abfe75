// Package main is the entry point for deployctl.
// deployctl is the operator terminal tool for the deployplane controller.
package main

import (
	"os"

	"deployplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
