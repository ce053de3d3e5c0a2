package main

import (
	"os"

	"github.com/ls1intum/Hephaestus-sub003/cli/cmd"
	"github.com/ls1intum/Hephaestus-sub003/cli/pkg/output"
)

func main() {
	if err := cmd.Execute(); err != nil {
		output.Error("%v", err)
		os.Exit(1)
	}
}
