// Command secrag builds the vulnerable-code knowledge base and runs secure
// rewrite generation over a dataset.
//
// Usage:
//
//	secrag ingest   --data dataset.json --index-dir index
//	secrag generate --data queries.json --index-dir index --output results.json
//	secrag baseline --data dataset.json --output baseline.json
//	secrag filter   --data dataset.json --output filtered.json
//	secrag tail     --count 10
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(stdout, stderr)
	defer a.close()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
