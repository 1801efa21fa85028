// Package daemon detaches the server from its terminal.
//
// A Go process cannot fork safely once the runtime is up, so detaching
// re-executes the current binary instead. The parent binds the listening
// socket first and hands it to the child as an inherited descriptor. Bind
// errors therefore reach the foreground caller, and the child only serves.
//
// The child runs in a new session with its standard streams on /dev/null. It
// starts in the parent's working directory so relative paths on the command
// line resolve the same way, and moves to / with EnterRoot once its
// configuration is loaded. The parent returns as soon as the child has started
// and is expected to exit with status 0.
package daemon

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
)

const (
	// EnvChild marks a process started by Detach
	EnvChild = "AESDSOCKET_DAEMON_CHILD"

	// First descriptor after stdin, stdout and stderr
	listenerFD = 3
)

var (
	ErrNotChild     = errors.New("not a daemon child")
	ErrNotInherited = errors.New("listener cannot be inherited")
)

// filer is implemented by *net.TCPListener and *net.UnixListener
type filer interface {
	File() (*os.File, error)
}

// IsChild reports whether this process was started by Detach
func IsChild() bool {
	return os.Getenv(EnvChild) == "1"
}

// Detach starts a detached copy of this process that inherits ln.
// On success the caller should close ln and exit 0.
func Detach(ln net.Listener) (int, error) {
	fl, ok := ln.(filer)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrNotInherited, ln)
	}

	lnFile, err := fl.File()
	if err != nil {
		return 0, fmt.Errorf("failed to duplicate listener: %w", err)
	}
	defer lnFile.Close()

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to locate executable: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), EnvChild+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.ExtraFiles = []*os.File{lnFile}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("failed to release daemon: %w", err)
	}
	return pid, nil
}

// EnterRoot moves a daemon child to / so it keeps no directory busy
func EnterRoot() error {
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("failed to change directory: %w", err)
	}
	return nil
}

// Inherit rebuilds the listener passed down by Detach
func Inherit() (net.Listener, error) {
	if !IsChild() {
		return nil, ErrNotChild
	}

	f := os.NewFile(listenerFD, "inherited-listener")
	if f == nil {
		return nil, fmt.Errorf("%w: descriptor %d missing", ErrNotInherited, listenerFD)
	}
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotInherited, err)
	}
	return ln, nil
}
