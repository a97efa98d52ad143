package main

import (
	"os"

	"github.com/ulfur/nightshift/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
