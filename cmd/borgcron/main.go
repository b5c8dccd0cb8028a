// Package main is the entry point for borgcron.
package main

import (
	"errors"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit code. When borg or the remote
// shell failed, their own exit code is propagated unchanged.
func exitCode(err error) int {
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}

	var statusErr interface{ ExitStatus() int }
	if errors.As(err, &statusErr) {
		if code := statusErr.ExitStatus(); code > 0 {
			return code
		}
	}

	return 1
}
