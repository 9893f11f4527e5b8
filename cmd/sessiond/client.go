package main

import (
	"flag"
	"fmt"
	"os"

	sessiond "github.com/everydev1618/sessiond"
	"github.com/everydev1618/sessiond/serve"
)

// pingCmd checks that a daemon answers on the socket.
func pingCmd(args []string) {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	socket := fs.String("socket", sessiond.DefaultConfig().SocketPath, "Daemon socket path")

	fs.Usage = func() {
		fmt.Println(`Usage: sessiond ping [options]

Check that a running daemon answers on its socket.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	resp, err := serve.Call(*socket, serve.Request{Action: serve.ActionPing})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if resp["status"] != serve.StatusOK {
		fmt.Fprintf(os.Stderr, "Unexpected response: %v\n", resp)
		os.Exit(1)
	}
	fmt.Printf("Daemon is up on %s\n", *socket)
}

// cleanupCmd asks the daemon to remove dead session containers.
func cleanupCmd(args []string) {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	socket := fs.String("socket", sessiond.DefaultConfig().SocketPath, "Daemon socket path")

	fs.Usage = func() {
		fmt.Println(`Usage: sessiond cleanup [options]

Ask a running daemon to remove exited session containers.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  sessiond cleanup
  sessiond cleanup --socket /tmp/sessiond.sock`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	resp, err := serve.Call(*socket, serve.Request{Action: serve.ActionCleanup})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if resp["status"] != serve.StatusOK {
		fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", resp["error"])
		os.Exit(1)
	}

	removed, _ := resp["removed"].([]any)
	if len(removed) == 0 {
		fmt.Println("Nothing to clean up.")
		return
	}
	for _, name := range removed {
		fmt.Printf("  removed %v\n", name)
	}
	fmt.Printf("Removed %d dead container(s)\n", len(removed))
}
