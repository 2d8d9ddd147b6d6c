package main

import (
	"fmt"
	"os"

	"fsundo/cmd/fsu/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fsu:", err)
		os.Exit(1)
	}
}
