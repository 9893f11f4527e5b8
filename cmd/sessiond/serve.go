package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	sessiond "github.com/everydev1618/sessiond"
	"github.com/everydev1618/sessiond/container"
	"github.com/everydev1618/sessiond/journal"
	"github.com/everydev1618/sessiond/serve"
)

// serveCmd runs the daemon until interrupted.
func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file (YAML); built-in defaults when empty")
	socket := fs.String("socket", "", "Listen socket path (overrides config)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, or error")
	logJSON := fs.Bool("log-json", false, "Write logs as JSON")

	fs.Usage = func() {
		fmt.Println(`Usage: sessiond serve [options]

Run the session daemon: listen on a Unix socket for JSON requests and
manage session containers through the local container engine.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  sessiond serve
  sessiond serve --config /etc/sessiond/config.yaml
  sessiond serve --socket /tmp/sessiond.sock --log-level debug`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	setupLogging(*logLevel, *logJSON)

	cfg, err := sessiond.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *socket != "" {
		cfg.SocketPath = *socket
	}
	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	engine, err := container.Connect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	mgr := sessiond.NewManager(cfg, engine)
	defer mgr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Startup(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing engine state: %v\n", err)
		os.Exit(1)
	}

	jnl, err := journal.Open(cfg.JournalPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening journal %s: %v\n", cfg.JournalPath(), err)
		os.Exit(1)
	}
	defer jnl.Close()

	srv := serve.New(serve.Config{SocketPath: cfg.SocketPath}, mgr, mgr.Volumes(), jnl)
	if err := srv.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(level string, asJSON bool) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "Unknown log level %q, using info\n", level)
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if asJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
