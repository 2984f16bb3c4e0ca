// Package main is the entry point for the encodefleet worker agent.
package main

import (
	"os"

	"github.com/encodefleet/encodefleet/cmd/encodefleet-agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
