package main

import (
	"os"

	"github.com/filterforge/filterforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
