package main

import (
	"os"

	"github.com/cervicel-cytology-server/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
