// Package main provides the entry point for the sharesync CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/sharesync/cmd/sharesync/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
