// Package main is the entry point for the presto-notebook CLI binary.
package main

import (
	"os"

	cli "presto-notebook/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
