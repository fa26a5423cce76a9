/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the consultation wallet service. Every subcommand
  loads the same environment config, builds the same logger and opens the
  store selected by STORE_DRIVER.

COMMANDS:
  serve   Run the HTTP API with the periodic ledger audit
  seed    Fill the store with fake doctors and funded patients
  audit   Replay every ledger once and exit non-zero on divergence

ENVIRONMENT:
  See config/config.go. A .env file in the working directory is honoured.

EXAMPLES:
  # Run against a file database
  SQLITE_PATH=./data/consult.db ./server serve

  # Run against Postgres with the Redis slot lock
  STORE_DRIVER=postgres POSTGRES_DSN=postgres://... REDIS_ADDR=localhost:6379 ./server serve

  # Seed some data
  ./server seed --doctors 5 --patients 20

SEE ALSO:
  - serve.go: HTTP server lifecycle
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
