package main

import (
	"os"

	"github.com/cota-system/cota/cmd/cota/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
