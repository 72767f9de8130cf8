//go:build !unix

package main

import (
	"context"

	"github.com/breeze-rmm/offscreen/internal/logging"
)

// watchLogReopen is a no-op without SIGHUP.
func watchLogReopen(_ context.Context, _ *logging.RotatingWriter) {}
