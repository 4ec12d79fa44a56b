package main

import (
	"os"

	"github.com/orbitlabs/orbit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
