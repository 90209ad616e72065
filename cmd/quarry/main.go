// Package main provides the entry point for the quarry CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/quarrylabs/quarry/cmd/quarry/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
