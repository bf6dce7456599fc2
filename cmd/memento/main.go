// Command memento is the reference CLI and JSON-RPC stdio server for
// the memory engine: serve runs the tool surface over
// newline-delimited JSON on stdin/stdout, export/import drive the
// codec directly against a context's database file, and bench
// exercises the write/search path for a throughput sanity check.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
