// Command ossgate serves upload policies, listings and signed URLs for an
// object storage bucket, and records upload callbacks.
//
// Run with:
//
//	ossgate serve --config ossgate.yaml
//	ossgate ls images/ --recursive
//	ossgate policy --dir images/ --var uid=42
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
