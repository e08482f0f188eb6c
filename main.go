package main

import (
	"os"

	"github.com/usagi-dev/usagi/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
