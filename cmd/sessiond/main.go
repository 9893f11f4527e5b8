// Package main provides the sessiond CLI: the daemon itself plus small
// operator commands that talk to a running daemon over its socket.
package main

import (
	"fmt"
	"os"
)

var (
	version = "dev"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		serveCmd(args)
	case "ping":
		pingCmd(args)
	case "cleanup":
		cleanupCmd(args)
	case "history":
		historyCmd(args)
	case "version":
		fmt.Printf("sessiond %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`sessiond - sandboxed interactive session daemon

Usage:
  sessiond <command> [options]

Commands:
  serve     Run the daemon
  ping      Check that a running daemon answers
  cleanup   Ask the daemon to remove dead session containers
  history   Show recent requests from the journal
  version   Print version information
  help      Show this help message

Examples:
  sessiond serve --config /etc/sessiond/config.yaml
  sessiond ping
  sessiond history --limit 20

Run 'sessiond <command> --help' for more information on a command.`)
}
