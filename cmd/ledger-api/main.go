package main

import (
	"context"
	"fmt"
	"os"

	"github.com/trailguard/audit-ledger/cli"
)

// main boots the HTTP service with the same wiring as auditctl serve.
// Configuration comes from the environment; see config.New for the
// variables and their defaults.
func main() {
	if err := cli.Serve(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
