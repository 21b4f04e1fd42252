package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/root-talis/fluentrun/migrations" // registers the compiled-in Go migrations
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		reportError(err)
		os.Exit(exitCode(err))
	}
}
