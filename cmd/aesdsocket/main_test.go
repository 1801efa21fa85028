package main

import (
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/creack/pty"

	"github.com/117503445/aesdsocket/internal/daemon"
)

const envRunMain = "AESDSOCKET_TEST_RUN_MAIN"

// TestMain lets the test binary stand in for aesdsocket, so the CLI tests
// exercise the real entry point including re-exec for daemon mode.
func TestMain(m *testing.M) {
	if os.Getenv(envRunMain) == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type instance struct {
	dir      string
	addr     string
	dataFile string
	pidFile  string
	env      []string
}

func newInstance(t *testing.T) *instance {
	t.Helper()
	dir := t.TempDir()

	configPath := filepath.Join(dir, "aesdsocket.toml")
	if err := os.WriteFile(configPath, []byte("[log]\nsyslog = false\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	inst := &instance{
		dir:      dir,
		addr:     freeAddr(t),
		dataFile: filepath.Join(dir, "aesdsocketdata"),
		pidFile:  filepath.Join(dir, "aesdsocket.pid"),
	}
	inst.env = append(os.Environ(),
		envRunMain+"=1",
		"AESDSOCKET_CONFIG="+configPath,
		"AESDSOCKET_LISTEN="+inst.addr,
		"AESDSOCKET_DATA_FILE="+inst.dataFile,
		"AESDSOCKET_PID_FILE="+inst.pidFile,
		"AESDSOCKET_LOG_FILE="+filepath.Join(dir, "aesdsocket.log"),
	)
	return inst
}

func (inst *instance) command(args ...string) *exec.Cmd {
	cmd := exec.Command(os.Args[0], args...)
	cmd.Env = inst.env
	return cmd
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

// dialRetry waits for the server to start listening
func dialRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.SetDeadline(time.Now().Add(10 * time.Second))
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("Server never listened on %s: %v", addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func exchange(t *testing.T, conn net.Conn, packet, want string) {
	t.Helper()
	if _, err := conn.Write([]byte(packet)); err != nil {
		t.Fatalf("Failed to write %q: %v", packet, err)
	}
	got := make([]byte, len(want))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("Failed to read reply to %q: %v", packet, err)
	}
	if string(got) != want {
		t.Errorf("reply to %q: expected %q, got %q", packet, want, got)
	}
}

func waitExit(t *testing.T, cmd *exec.Cmd) int {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		if err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		return 0
	case <-time.After(10 * time.Second):
		cmd.Process.Kill()
		t.Fatal("process did not exit")
		return -1
	}
}

func waitGone(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s still present", path)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestRunServesAndShutsDown(t *testing.T) {
	inst := newInstance(t)
	cmd := inst.command()
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	conn := dialRetry(t, inst.addr)
	exchange(t, conn, "hello\n", "hello\n")
	conn.Close()

	conn = dialRetry(t, inst.addr)
	exchange(t, conn, "a\n", "hello\na\n")
	exchange(t, conn, "b\n", "hello\na\nb\n")
	conn.Close()

	if pid, err := daemon.ReadPID(inst.pidFile); err != nil || pid != cmd.Process.Pid {
		t.Errorf("pid file: expected %d, got %d (%v)", cmd.Process.Pid, pid, err)
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	if code := waitExit(t, cmd); code != 0 {
		t.Errorf("Expected exit status 0, got %d", code)
	}
	if _, err := os.Stat(inst.dataFile); !os.IsNotExist(err) {
		t.Errorf("data file still present after shutdown: %v", err)
	}
	if _, err := os.Stat(inst.pidFile); !os.IsNotExist(err) {
		t.Errorf("pid file still present after shutdown: %v", err)
	}
}

func TestRunInterruptWhileIdle(t *testing.T) {
	inst := newInstance(t)
	cmd := inst.command()
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	dialRetry(t, inst.addr).Close()

	cmd.Process.Signal(syscall.SIGINT)
	if code := waitExit(t, cmd); code != 0 {
		t.Errorf("Expected exit status 0, got %d", code)
	}
}

func TestRunBindFailure(t *testing.T) {
	inst := newInstance(t)

	busy, err := net.Listen("tcp", inst.addr)
	if err != nil {
		t.Fatalf("Failed to occupy %s: %v", inst.addr, err)
	}
	defer busy.Close()

	cmd := inst.command()
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if code := waitExit(t, cmd); code != 1 {
		t.Errorf("Expected exit status 1, got %d", code)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	inst := newInstance(t)
	cmd := inst.command("--no-such-flag")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if code := waitExit(t, cmd); code != 1 {
		t.Errorf("Expected exit status 1, got %d", code)
	}
}

func TestRunMissingConfig(t *testing.T) {
	inst := newInstance(t)
	inst.env = append(inst.env, "AESDSOCKET_CONFIG="+filepath.Join(inst.dir, "absent.toml"))

	cmd := inst.command()
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if code := waitExit(t, cmd); code != 1 {
		t.Errorf("Expected exit status 1, got %d", code)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	inst := newInstance(t)
	inst.env = append(inst.env, "AESDSOCKET_DATA_FILE=relative/path")

	cmd := inst.command()
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if code := waitExit(t, cmd); code != 1 {
		t.Errorf("Expected exit status 1, got %d", code)
	}
}

// procStat returns the session id and controlling terminal of pid
func procStat(t *testing.T, pid int) (session, tty int) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		t.Skipf("procfs unavailable: %v", err)
	}
	// Fields after "(comm)": state ppid pgrp session tty_nr ...
	fields := strings.Fields(string(data[strings.LastIndexByte(string(data), ')')+1:]))
	if len(fields) < 5 {
		t.Fatalf("short stat line: %q", data)
	}
	session, _ = strconv.Atoi(fields[3])
	tty, _ = strconv.Atoi(fields[4])
	return session, tty
}

func TestDaemonDetaches(t *testing.T) {
	inst := newInstance(t)

	// The parent gets a controlling terminal the child has to leave behind.
	cmd := inst.command("-d")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer ptmx.Close()
	go io.Copy(io.Discard, ptmx)

	if code := waitExit(t, cmd); code != 0 {
		t.Fatalf("Expected parent exit status 0, got %d", code)
	}

	conn := dialRetry(t, inst.addr)
	exchange(t, conn, "x\n", "x\n")
	conn.Close()

	var pid int
	deadline := time.Now().Add(10 * time.Second)
	for {
		pid, err = daemon.ReadPID(inst.pidFile)
		if err == nil && pid != 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon never wrote its pid file: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Cleanup(func() { syscall.Kill(pid, syscall.SIGKILL) })

	if pid == cmd.Process.Pid {
		t.Errorf("daemon pid %d equals parent pid", pid)
	}
	session, tty := procStat(t, pid)
	if session != pid {
		t.Errorf("Expected daemon to lead session %d, got %d", pid, session)
	}
	if tty != 0 {
		t.Errorf("Expected no controlling terminal, got tty_nr %d", tty)
	}

	conn = dialRetry(t, inst.addr)
	exchange(t, conn, "y\n", "x\ny\n")
	conn.Close()

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	waitGone(t, inst.dataFile)
	waitGone(t, inst.pidFile)
}

func TestDaemonRelativeConfig(t *testing.T) {
	inst := newInstance(t)

	// Only the config file names the listen address, so serving on it proves
	// the daemon child read the relative path before leaving the directory.
	config := "listen_addr = \"" + inst.addr + "\"\n[log]\nsyslog = false\n"
	if err := os.WriteFile(filepath.Join(inst.dir, "relative.toml"), []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}
	var env []string
	for _, kv := range inst.env {
		if strings.HasPrefix(kv, "AESDSOCKET_LISTEN=") || strings.HasPrefix(kv, "AESDSOCKET_CONFIG=") {
			continue
		}
		env = append(env, kv)
	}
	inst.env = env

	cmd := inst.command("-d", "--config", "relative.toml")
	cmd.Dir = inst.dir
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if code := waitExit(t, cmd); code != 0 {
		t.Fatalf("Expected parent exit status 0, got %d", code)
	}

	conn := dialRetry(t, inst.addr)
	exchange(t, conn, "rel\n", "rel\n")
	conn.Close()

	var pid int
	var err error
	deadline := time.Now().Add(10 * time.Second)
	for {
		pid, err = daemon.ReadPID(inst.pidFile)
		if err == nil && pid != 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon never wrote its pid file: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Cleanup(func() { syscall.Kill(pid, syscall.SIGKILL) })

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	waitGone(t, inst.dataFile)
}
