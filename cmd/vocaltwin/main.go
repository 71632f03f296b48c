package main

import (
	"os"

	"github.com/vocaltwin/vocaltwin/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
