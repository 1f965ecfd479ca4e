package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"methodlift/internal/mcp"
)

const version = "0.1.0"

func main() {
	var (
		workspaceFlag = flag.String("workspace", "", "Root workspace directory (defaults to current directory)")
		debugFlag     = flag.Bool("debug", false, "Enable debug logging")
		versionFlag   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Println("methodlift-mcp v" + version)
		fmt.Println("Model Context Protocol server for extract-function refactoring")
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *debugFlag {
		level = slog.LevelDebug
	}
	// Stdout carries the protocol; all logging goes to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	workspace := *workspaceFlag
	if workspace == "" {
		var err error
		workspace, err = os.Getwd()
		if err != nil {
			logger.Error("cannot determine working directory", "err", err)
			os.Exit(1)
		}
	}

	srv, err := mcp.NewServer(workspace, logger)
	if err != nil {
		logger.Error("server startup failed", "err", err)
		os.Exit(1)
	}
	if err := srv.Serve(context.Background()); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}
