package main

import "os"

// hasConsole reports whether stdout is connected to a terminal.
// Returns false when running under launchd, systemd or a service manager.
func hasConsole() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
