package main

import (
	"os"

	"github.com/gandaldf/bulkmap/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
