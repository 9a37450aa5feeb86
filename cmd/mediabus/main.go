package main

import (
	"os"

	"github.com/marmos91/mediabus/cmd/mediabus/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
