// Command ipchubd runs the IPC message hub.
//
// It intentionally delegates startup to the internal app package to keep
// main small, testable (via app), and lint-friendly.
package main

import (
	"log/slog"
	"os"

	"ipchub/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		slog.Error("ipchubd.exit", "err", err)
		os.Exit(1)
	}
}
