// phx is the Phoenix CLI for crash recovery and process supervision.
package main

import (
	"os"

	"github.com/steveyegge/phoenix/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
