package knotes

import (
	"flag"
	"fmt"
	"os"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Parse parses command line arguments into the command to execute and the
// application configuration. Connection settings come from environment
// variables so credentials stay out of process listings:
//
//	SURREALDB_URL    - WebSocket URL (default: ws://localhost:8000/rpc)
//	SURREALDB_NS     - namespace (default: knotes)
//	SURREALDB_DB     - database (default: knotes)
//	SURREALDB_USER   - username (default: root)
//	SURREALDB_PASS   - password (default: root)
func Parse(args []string) (Command, *Config, error) {
	flagSet := flag.NewFlagSet("knotes", flag.ContinueOnError)

	var (
		port    = flagSet.String("port", "8080", "Server port")
		dataDir = flagSet.String("data-dir", "./data", "Directory for attachments and session state")
		mem     = flagSet.Bool("memory", false, "Use the in-memory store instead of SurrealDB")
	)

	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}

	remaining := flagSet.Args()
	if len(remaining) == 0 {
		return nil, nil, fmt.Errorf(`subcommand required

Usage: knotes [flags] <command>

Commands:
  run       Start the KNotes server
  migrate   Apply store schema setup

Examples:
  knotes run                       # SurrealDB from environment settings
  knotes -memory run               # in-memory store, no database needed
  knotes -port=8090 run
  knotes migrate`)
	}

	config := &Config{
		ServerPort:    *port,
		DataDir:       *dataDir,
		Memory:        *mem,
		SurrealDBURL:  envOr("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNS:   envOr("SURREALDB_NS", "knotes"),
		SurrealDBDB:   envOr("SURREALDB_DB", "knotes"),
		SurrealDBUser: envOr("SURREALDB_USER", "root"),
		SurrealDBPass: envOr("SURREALDB_PASS", "root"),
	}

	var cmd Command
	switch remaining[0] {
	case "run":
		cmd = &RunCommand{}
	case "migrate":
		cmd = &MigrateCommand{}
	default:
		return nil, nil, fmt.Errorf("unknown command: %s\n\nValid commands: run, migrate", remaining[0])
	}

	return cmd, config, nil
}
