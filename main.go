package main

import (
	"os"

	"github.com/Chative-data-agent/server/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
