package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrRunning is returned when another process holds the PID file lock
var ErrRunning = errors.New("another instance is running")

// PIDFile is a locked file holding the daemon's process ID
type PIDFile struct {
	path string
	f    *os.File
	once sync.Once
}

// WritePID creates path, takes an exclusive lock on it and writes the
// current process ID. The lock lives as long as the returned PIDFile.
func WritePID(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create pid directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open pid file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s is locked", ErrRunning, path)
		}
		return nil, fmt.Errorf("failed to lock pid file: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate pid file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pid file: %w", err)
	}

	return &PIDFile{path: path, f: f}, nil
}

// Path returns the file location
func (p *PIDFile) Path() string {
	return p.path
}

// Remove deletes the file and releases the lock
func (p *PIDFile) Remove() error {
	var err error
	p.once.Do(func() {
		if rmErr := os.Remove(p.path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = fmt.Errorf("failed to remove pid file: %w", rmErr)
		}
		if unlockErr := unix.Flock(int(p.f.Fd()), unix.LOCK_UN); unlockErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to unlock pid file: %w", unlockErr))
		}
		if closeErr := p.f.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	})
	return err
}

// ReadPID returns the process ID stored at path
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

