package logging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Rotation limits used when a Rotation field is zero.
const (
	DefaultMaxSizeMB  = 20
	DefaultMaxBackups = 5
)

// Rotation holds the size limits for a RotatingWriter.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
}

func (r Rotation) withDefaults() Rotation {
	if r.MaxSizeMB <= 0 {
		r.MaxSizeMB = DefaultMaxSizeMB
	}
	if r.MaxBackups <= 0 {
		r.MaxBackups = DefaultMaxBackups
	}
	return r
}

// RotatingWriter writes the host log file and moves it to path.1, path.2,
// ... once it grows past the configured size. Safe for concurrent use.
type RotatingWriter struct {
	path string

	mu      sync.Mutex
	limits  Rotation
	file    *os.File
	written int64
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, limits Rotation) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("logging: create log directory: %w", err)
	}
	rw := &RotatingWriter{path: path, limits: limits.withDefaults()}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

// SetRotation changes the limits of an open writer. Backups beyond a lowered
// MaxBackups are removed immediately.
func (rw *RotatingWriter) SetRotation(limits Rotation) {
	limits = limits.withDefaults()
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if limits == rw.limits {
		return
	}
	prev := rw.limits.MaxBackups
	rw.limits = limits
	for i := limits.MaxBackups + 1; i <= prev; i++ {
		os.Remove(rw.backup(i))
	}
}

func (rw *RotatingWriter) Rotation() Rotation {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.limits
}

func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.written > 0 && rw.written+int64(len(p)) > rw.maxBytes() {
		if err := rw.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := rw.file.Write(p)
	rw.written += int64(n)
	return n, err
}

// Reopen closes and reopens the file so an external tool can move it away.
// The host calls it on SIGHUP.
func (rw *RotatingWriter) Reopen() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file != nil {
		rw.file.Close()
	}
	return rw.open()
}

func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

// TeeWriter writes to both w1 and w2.
func TeeWriter(w1, w2 io.Writer) io.Writer {
	return io.MultiWriter(w1, w2)
}

func (rw *RotatingWriter) maxBytes() int64 {
	return int64(rw.limits.MaxSizeMB) << 20
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", rw.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("logging: stat %s: %w", rw.path, err)
	}
	rw.file = f
	rw.written = info.Size()
	return nil
}

// rotate shifts path.N-1 to path.N down to path -> path.1, dropping the
// oldest backup, then starts a fresh file.
func (rw *RotatingWriter) rotate() error {
	if rw.file != nil {
		rw.file.Close()
		rw.file = nil
	}
	if err := os.Remove(rw.backup(rw.limits.MaxBackups)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("logging: rotate: %w", err)
	}
	for i := rw.limits.MaxBackups - 1; i >= 0; i-- {
		if err := os.Rename(rw.backup(i), rw.backup(i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("logging: rotate: %w", err)
		}
	}
	return rw.open()
}

// backup names the i-th backup; 0 is the live file.
func (rw *RotatingWriter) backup(i int) string {
	if i == 0 {
		return rw.path
	}
	return fmt.Sprintf("%s.%d", rw.path, i)
}
