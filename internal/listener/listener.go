// Package listener creates the daemon's passive TCP socket.
//
// The socket is built step by step (socket, setsockopt, bind, listen) so each
// failure names the syscall that caused it and the backlog can be set
// explicitly. The result is handed to the net package as a regular listener.
package listener

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// SetupError is a fatal failure while preparing the listening socket
type SetupError struct {
	Op   string // Failing step: resolve, socket, setsockopt, bind, listen, filelistener
	Addr string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Listen binds a stream socket to addr with SO_REUSEADDR and the given backlog.
//
// An unspecified host listens on every interface, dual-stack when IPv6 is
// available.
func Listen(addr string, backlog int) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, &SetupError{Op: "resolve", Addr: addr, Err: err}
	}

	fd, err := bindSocket(tcpAddr, addr)
	if err != nil {
		return nil, err
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, &SetupError{Op: "listen", Addr: addr, Err: os.NewSyscallError("listen", err)}
	}

	f := os.NewFile(uintptr(fd), "tcp:"+addr)
	defer f.Close() // FileListener holds its own duplicate

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, &SetupError{Op: "filelistener", Addr: addr, Err: err}
	}
	return ln, nil
}

// bindSocket creates and binds the socket, returning its descriptor
func bindSocket(tcpAddr *net.TCPAddr, addr string) (int, error) {
	if tcpAddr.IP == nil || (tcpAddr.IP.IsUnspecified() && tcpAddr.IP.To4() == nil) {
		fd, err := bindFamily(unix.AF_INET6, tcpAddr, addr)
		if err == nil {
			return fd, nil
		}
		var se *SetupError
		if !errors.As(err, &se) || se.Op != "socket" {
			return -1, err
		}
		// No IPv6 on this host
		return bindFamily(unix.AF_INET, tcpAddr, addr)
	}

	if tcpAddr.IP.To4() != nil {
		return bindFamily(unix.AF_INET, tcpAddr, addr)
	}
	return bindFamily(unix.AF_INET6, tcpAddr, addr)
}

func bindFamily(family int, tcpAddr *net.TCPAddr, addr string) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, &SetupError{Op: "socket", Addr: addr, Err: os.NewSyscallError("socket", err)}
	}

	fail := func(op string, err error) (int, error) {
		unix.Close(fd)
		return -1, &SetupError{Op: op, Addr: addr, Err: os.NewSyscallError(op, err)}
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}

	var sa unix.Sockaddr
	if family == unix.AF_INET6 {
		if tcpAddr.IP == nil || tcpAddr.IP.IsUnspecified() {
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
				return fail("setsockopt", err)
			}
		}
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		if tcpAddr.IP != nil {
			copy(sa6.Addr[:], tcpAddr.IP.To16())
		}
		sa = sa6
	} else {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if ip4 := tcpAddr.IP.To4(); ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		sa = sa4
	}

	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	return fd, nil
}
