package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/breeze-rmm/offscreen/internal/logging"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validCaptureModes = map[string]bool{
	CaptureModeCopy:     true,
	CaptureModeSoftware: true,
	CaptureModeVideo:    true,
}

// Frame rate bounds shared with the begin-frame governor.
const (
	MinFrameRate = 1
	MaxFrameRate = 60
)

// Log rotation bounds.
const (
	MaxLogSizeMB  = 1024
	MaxLogBackups = 50
)

// ValidationResult separates problems that must stop startup from values
// that were clamped into range.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// ValidateTiered checks the config. Out-of-range numbers are clamped and
// reported as warnings; values that cannot be corrected are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var res ValidationResult
	warn := func(format string, args ...any) {
		res.Warnings = append(res.Warnings, fmt.Errorf(format, args...))
	}
	fatal := func(format string, args ...any) {
		res.Fatals = append(res.Fatals, fmt.Errorf(format, args...))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		warn("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		warn("log_format %q is not valid (use text or json)", c.LogFormat)
	}

	if c.LogMaxSizeMB < 1 {
		warn("log_max_size_mb %d is below minimum 1, clamping", c.LogMaxSizeMB)
		c.LogMaxSizeMB = 1
	} else if c.LogMaxSizeMB > MaxLogSizeMB {
		warn("log_max_size_mb %d exceeds maximum %d, clamping", c.LogMaxSizeMB, MaxLogSizeMB)
		c.LogMaxSizeMB = MaxLogSizeMB
	}
	if c.LogMaxBackups < 1 {
		warn("log_max_backups %d is below minimum 1, clamping", c.LogMaxBackups)
		c.LogMaxBackups = 1
	} else if c.LogMaxBackups > MaxLogBackups {
		warn("log_max_backups %d exceeds maximum %d, clamping", c.LogMaxBackups, MaxLogBackups)
		c.LogMaxBackups = MaxLogBackups
	}

	if c.View.Width <= 0 || c.View.Height <= 0 {
		fatal("view size %dx%d must be positive", c.View.Width, c.View.Height)
	}
	if c.View.ScaleFactor <= 0 {
		warn("view.scale_factor %v must be positive, using 1.0", c.View.ScaleFactor)
		c.View.ScaleFactor = 1.0
	}
	if c.View.FrameRate < MinFrameRate {
		warn("view.frame_rate %d is below minimum %d, clamping", c.View.FrameRate, MinFrameRate)
		c.View.FrameRate = MinFrameRate
	} else if c.View.FrameRate > MaxFrameRate {
		warn("view.frame_rate %d exceeds maximum %d, clamping", c.View.FrameRate, MaxFrameRate)
		c.View.FrameRate = MaxFrameRate
	}

	mode := strings.ToLower(c.Capture.Mode)
	if !validCaptureModes[mode] {
		fatal("capture.mode %q is not valid (use copy, software or video)", c.Capture.Mode)
	} else {
		c.Capture.Mode = mode
	}
	if c.Capture.RetryLimit < 0 {
		warn("capture.retry_limit %d is below minimum 0, clamping", c.Capture.RetryLimit)
		c.Capture.RetryLimit = 0
	} else if c.Capture.RetryLimit > 10 {
		warn("capture.retry_limit %d exceeds maximum 10, clamping", c.Capture.RetryLimit)
		c.Capture.RetryLimit = 10
	}
	if c.Capture.FailureRate < 0 || c.Capture.FailureRate > 1 {
		warn("capture.failure_rate %v outside [0,1], disabling", c.Capture.FailureRate)
		c.Capture.FailureRate = 0
	}

	if c.Overlay.RecordVersion != 1 && c.Overlay.RecordVersion != 2 {
		warn("overlay.record_version %d is not supported, using 2", c.Overlay.RecordVersion)
		c.Overlay.RecordVersion = 2
	}
	if c.Overlay.Enabled && (c.Overlay.Module == "" || c.Overlay.Symbol == "") {
		fatal("overlay.module and overlay.symbol are required when overlay is enabled")
	}

	if c.Preview.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.Preview.ListenAddr); err != nil {
			fatal("preview.listen_addr %q is not host:port: %v", c.Preview.ListenAddr, err)
		}
	}
	if c.Preview.Quality < 1 {
		warn("preview.quality %d is below minimum 1, clamping", c.Preview.Quality)
		c.Preview.Quality = 1
	} else if c.Preview.Quality > 100 {
		warn("preview.quality %d exceeds maximum 100, clamping", c.Preview.Quality)
		c.Preview.Quality = 100
	}
	if c.Preview.ScaleFactor <= 0 || c.Preview.ScaleFactor > 1 {
		warn("preview.scale_factor %v outside (0,1], using 1.0", c.Preview.ScaleFactor)
		c.Preview.ScaleFactor = 1.0
	}

	if c.MetricsIntervalSeconds < 1 {
		warn("metrics_interval_seconds %d is below minimum 1, clamping", c.MetricsIntervalSeconds)
		c.MetricsIntervalSeconds = 1
	}

	return res
}

// Validate runs ValidateTiered, logs every finding and returns the fatal
// problems joined, or nil.
func (c *Config) Validate() error {
	res := c.ValidateTiered()
	for _, err := range res.Warnings {
		log.Warn("config value adjusted", logging.KeyError, err)
	}
	for _, err := range res.Fatals {
		log.Error("config invalid", logging.KeyError, err)
	}
	return errors.Join(res.Fatals...)
}
