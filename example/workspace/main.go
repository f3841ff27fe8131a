package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MegaGrindStone/go-mcp-conform/servers/workspace"
)

func main() {
	mcpMode := flag.Bool("mcp", false, "Speak the newline-delimited JSON-RPC protocol on stdin/stdout (required)")
	root := flag.String("root", ".", "Workspace root directory")
	debug := flag.Bool("debug", false, "Write debug logs to stderr")
	flag.Parse()

	if !*mcpMode {
		fmt.Fprintln(os.Stderr, "Error: this server only speaks the stdio protocol, run it with --mcp")
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := workspace.NewServer(*root, workspace.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create workspace server", slog.String("err", err.Error()))
		os.Exit(1)
	}

	logger.Info("workspace server listening on stdio", slog.String("root", *root))

	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", slog.String("err", err.Error()))
		os.Exit(1)
	}
}
