package main

import (
	"os"

	"github.com/trailguard/audit-ledger/cli"
)

func main() {
	os.Exit(cli.Execute())
}
