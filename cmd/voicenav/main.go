// voicenav runs the voice command pipeline against a web page.
package main

import (
	"os"

	"github.com/teslashibe/go-voicenav/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
