package main

import (
	"os"

	"github.com/phqovo/slimming/internal/cli"
)

func main() {
	cli.InitCLI()
	if err := cli.Execute(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
