package main

import (
	"flag"
	"fmt"
	"os"

	sessiond "github.com/everydev1618/sessiond"
	"github.com/everydev1618/sessiond/journal"
)

// historyCmd prints recent requests from the journal. It reads the
// database directly, so it works whether or not the daemon is running.
func historyCmd(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dataDir := fs.String("data-dir", sessiond.DefaultConfig().DataDir, "Daemon data directory")
	limit := fs.Int("limit", 50, "Maximum entries to show")
	session := fs.String("session", "", "Only show requests for this session")

	fs.Usage = func() {
		fmt.Println(`Usage: sessiond history [options]

Show recent daemon requests, newest first. Reads the journal database
directly; the daemon does not need to be running.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  sessiond history
  sessiond history --limit 20
  sessiond history --session 2a5f0c`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := sessiond.DefaultConfig()
	cfg.DataDir = *dataDir

	jnl, err := journal.Open(cfg.JournalPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening journal %s: %v\n", cfg.JournalPath(), err)
		os.Exit(1)
	}
	defer jnl.Close()

	var entries []journal.Entry
	if *session != "" {
		entries, err = jnl.Session(*session, *limit)
	} else {
		entries, err = jnl.Recent(*limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading journal: %v\n", err)
		os.Exit(1)
	}

	if len(entries) == 0 {
		fmt.Println("No requests recorded.")
		return
	}

	for _, e := range entries {
		target := e.SessionID
		if target == "" {
			target = e.VolumeName
		}
		line := fmt.Sprintf("%s  %-8s  %-26s  %-14s  %-14s  %s",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.RequestID, e.Action, target, e.Status, e.Duration)
		if e.Error != "" {
			line += "  " + e.Error
		}
		fmt.Println(line)
	}
}
