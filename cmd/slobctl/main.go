package main

import (
	"os"

	"slobstore/cmd/slobctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
