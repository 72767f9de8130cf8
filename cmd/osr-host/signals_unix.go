//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/breeze-rmm/offscreen/internal/logging"
)

// watchLogReopen reopens the log file on SIGHUP so external rotation tools
// can move it away.
func watchLogReopen(ctx context.Context, w *logging.RotatingWriter) {
	if w == nil {
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				if err := w.Reopen(); err != nil {
					log.Warn("log file reopen failed", logging.KeyError, err)
					continue
				}
				log.Info("log file reopened")
			}
		}
	}()
}
