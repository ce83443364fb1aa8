package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/peregrine-desk/peregrine/internal/peregrined"
)

func main() {
	command := peregrined.NewPeregrinedCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
