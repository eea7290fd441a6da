/*
main.go - Application entry point

PURPOSE:
  The points binary. `points serve` runs the HTTP API; every other command
  performs one action against the configured store and exits.

STARTUP SEQUENCE:
  1. Load configuration (.env, then environment)
  2. Apply flag overrides (--backend, --addr)
  3. Open the store backend, wrap it with metrics
  4. Build the sync engine, catalog loader and points service
  5. Reload catalog + document
  6. Run the command

COMMANDS:
  serve                      HTTP API with background refresh
  status                     Balance, today's tasks/rewards, vouchers, quiz
  signin                     Daily sign-in
  task CODE                  Complete a task
  redeem CODE                Redeem a reward
  voucher list | use ID      Vouchers
  manual --points N --reason TEXT
  quiz status | start BET | submit A B | review [DATE] | history
  admin clear --yes | revisions

GRACEFUL SHUTDOWN (serve):
  On SIGINT/SIGTERM:
  1. Stop the refresh scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store backend

ENVIRONMENT:
  See config/config.go. Credentials come from the environment only.

SEE ALSO:
  - api/server.go: Router configuration
  - backend/backend.go: Store selection
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
