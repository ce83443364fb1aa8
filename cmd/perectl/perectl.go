package main

import (
	"os"

	"github.com/peregrine-desk/peregrine/internal/perectl/cmd"
)

func main() {
	command := cmd.NewDefaultPerectlCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
