// Package main is the entry point for vmcpctl, the client CLI used from
// inside a vMCP's Python sandbox (or any shell) to talk to a running
// "vmcp serve" instance.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stacklok/vmcp-gateway/cmd/vmcpctl/app"
	"github.com/stacklok/vmcp-gateway/pkg/logger"
)

func main() {
	logger.Initialize()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
