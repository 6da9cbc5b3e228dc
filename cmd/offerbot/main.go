package main

import (
	"fmt"
	"os"

	"offerbot/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "offerbot:", err)
		os.Exit(1)
	}
}
