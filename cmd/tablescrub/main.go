package main

import (
	"os"

	"github.com/aragossa/tablescrub/internal/cli"
	"github.com/aragossa/tablescrub/pkg/pipeline"
)

func main() {
	// Stdout carries only the scrubbed table; diagnostics go to stderr.
	if err := cli.Execute(); err != nil {
		pipeline.Report(os.Stderr, err)
		os.Exit(1)
	}
}
