// Package main is the entry point for the dfc CLI binary.
package main

import (
	"os"

	cli "dfc-rewriter/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
