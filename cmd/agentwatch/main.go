package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentwatch/cli/cmd/agentwatch/cli"
)

func main() {
	// Cancel the command context on interrupt so the daemon and the
	// wrapper shut down cleanly.
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	rootCmd := cli.NewRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		// Wrapped-agent exits and already-reported errors stay quiet;
		// everything else prints once, here.
		var exit *cli.ExitCodeError
		var silent *cli.SilentError
		if !errors.As(err, &exit) && !errors.As(err, &silent) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.ExitCode(err))
	}
}
