// Package main is the entry point for the tvgate application.
package main

import (
	"os"

	"github.com/tvgate/tvgate/cmd/tvgate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
