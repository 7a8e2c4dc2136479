package main

import (
	"os"

	"duet/cmd/duet/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
