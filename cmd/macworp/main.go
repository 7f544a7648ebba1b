// Command macworp is the command line client for the MAcWorP platform.
package main

import (
	"os"

	"github.com/macworp/macworp-client/internal/logging"
	"github.com/spf13/afero"
	"golang.org/x/term"
)

func main() {
	a := &app{
		in:          os.Stdin,
		out:         os.Stdout,
		errOut:      os.Stderr,
		fs:          afero.NewOsFs(),
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}

	err := newRootCmd(a).Execute()
	a.flushErrors()
	logging.Sync()
	if err != nil {
		os.Exit(1)
	}
}
