// Command depictio is the entry point for the depictio data-platform
// backend: project configuration ingestion, filesystem scanning, and the
// query/join/event API server.
package main

import (
	"os"

	"github.com/depictio/depictio/cli"
)

func main() {
	os.Exit(cli.Execute())
}
