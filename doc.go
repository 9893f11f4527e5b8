// Package sessiond implements a local daemon that manages sandboxed
// interactive compute sessions. Each session is one container running an
// interactive shell inside a tmux session, and the daemon is driven over
// a Unix domain socket speaking single-exchange JSON requests.
//
// The package provides:
//
//   - Session lifecycle: create, stop, list, inspect, automatic cleanup
//     of dead session containers
//   - Terminal access: screen capture with ANSI colors, literal and
//     symbolic keystroke injection, terminal resize
//   - Session logs from the host log mount with a container log fallback
//   - Environment volumes: persistent per-environment home directories
//     seeded from snapshot archives
//   - Managed images: fingerprinted builds that rebuild only when their
//     build recipe changes
//
// # Quick Start
//
// Connect an engine, build a manager, create a session:
//
//	engine, err := container.Connect()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg := sessiond.DefaultConfig()
//	mgr := sessiond.NewManager(cfg, engine)
//	if err := mgr.Startup(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	info, err := mgr.Create(ctx, sessiond.SessionConfig{
//	    SessionID:    "demo",
//	    ClaudePrompt: "fix the failing test",
//	})
//
// # Architecture
//
// The daemon is composed of:
//
//   - Manager: session operations over a container engine
//   - container: engine client, session containers, image cache,
//     networks, environment volumes, helper containers
//   - tmux: terminal control plane, executed inside session containers
//   - serve: Unix socket listener and request dispatch
//   - journal: append-only request history in SQLite
//
// # Source of Truth
//
// The engine is the only session registry. The daemon keeps no session
// table in memory or on disk: a session exists exactly when a container
// named for it exists, and every query goes to the engine. Restarting
// the daemon loses nothing.
package sessiond
