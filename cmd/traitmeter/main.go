// Package main provides the entry point for the traitmeter CLI.
package main

import (
	"os"

	"github.com/victoria-analytics/traitmeter/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
