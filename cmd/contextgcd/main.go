// Command contextgcd runs the context-management cache and garbage
// collection engine, either as an MCP server or as a one-shot CLI.
package main

import (
	"fmt"
	"os"

	"github.com/outofcontext/contextgcd/cmd/contextgcd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
