package main

import (
	"os"

	"github.com/bft-labs/opstream/internal/cli"
	"github.com/bft-labs/opstream/pkg/log"
)

func main() {
	if err := cli.NewRootCommand(os.Stderr).Execute(); err != nil {
		logger := log.NewConsoleLogger(os.Stderr)
		logger.Error().Err(err).Msg("opstream")
		os.Exit(1)
	}
}
