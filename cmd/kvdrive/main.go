// Package main provides kvdrive, a CLI for a single-file, append-only
// key/value container format.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/kvdrive/kvdrive/internal/cli"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, sigCh)

	os.Exit(exitCode)
}
