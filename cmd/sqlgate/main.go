// Package main provides the entry point for the sqlgate server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/txn2/sqlgate/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	transport   string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.transport, "transport", "", "Transport type: stdio, http (overrides config)")
	flag.StringVar(&opts.address, "address", "", "Server address for HTTP transport (overrides config)")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func createServer(opts serverOptions) (*server.Server, error) {
	if opts.configPath != "" {
		return server.New(opts.configPath)
	}
	return server.NewWithDefaults()
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("sqlgate version %s\n", server.Version)
		return nil
	}

	ctx := setupSignalHandler()

	srv, err := createServer(opts)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	err = srv.Run(ctx, opts.transport, opts.address)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
