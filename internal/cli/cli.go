// Package cli provides the command-line interface for TradingAgents
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Execute runs the command line in args and releases the engine afterwards.
func Execute(ctx context.Context, args []string, opts ...RootOption) error {
	e := newEnv(opts...)
	defer e.Close()

	rootCmd := newRootCmd(e)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// Run starts the CLI application
func Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, RenderError(err))
		stop()
		os.Exit(1)
	}
}
