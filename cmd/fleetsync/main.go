// Command fleetsync records inspection logs and keeps them in sync with the
// fleet log service.
package main

import (
	"os"

	"github.com/sentinelops/fleetsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
