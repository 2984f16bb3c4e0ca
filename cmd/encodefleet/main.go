// Package main is the entry point for the encodefleet controller.
package main

import (
	"os"

	"github.com/encodefleet/encodefleet/cmd/encodefleet/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
