package dtach

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/termhub/termhub/internal/logging"
	"go.uber.org/zap"
)

// probeTimeout bounds the Unix socket dial used to check liveness.
const probeTimeout = 250 * time.Millisecond

// Client shells out to the dtach binary for all session operations.
type Client struct {
	bin       string
	socketDir string
	logger    *logging.Logger
}

// NewClient resolves the dtach binary and prepares the socket
// directory. bin may be empty to resolve from PATH. The client is
// usable even when dtach is missing; IsAvailable reports that state and
// Create fails loudly at the manager layer.
func NewClient(bin, socketDir string, logger *logging.Logger) *Client {
	if bin == "" {
		if resolved, err := exec.LookPath("dtach"); err == nil {
			bin = resolved
		} else {
			bin = "dtach"
		}
	}
	return &Client{
		bin:       bin,
		socketDir: socketDir,
		logger:    logger.Component("dtach"),
	}
}

// IsAvailable reports whether the dtach binary can be executed on this
// host.
func (c *Client) IsAvailable() bool {
	_, err := exec.LookPath(c.bin)
	return err == nil
}

// SocketPath returns the socket file for a session. Diagnostic only;
// callers should not dial it directly.
func (c *Client) SocketPath(sessionID string) string {
	return filepath.Join(c.socketDir, sessionID+".sock")
}

// HasSession probes whether a live session is bound to the socket. A
// stale socket file with no listener counts as dead.
func (c *Client) HasSession(sessionID string) bool {
	sock := c.SocketPath(sessionID)
	if _, err := os.Stat(sock); err != nil {
		return false
	}

	conn, err := net.DialTimeout("unix", sock, probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// SpawnDetached creates a new detached session running the given shell
// in cwd. Returns once dtach has daemonized; the shell keeps running
// with no client attached.
func (c *Client) SpawnDetached(sessionID, cwd, shell string) error {
	if err := os.MkdirAll(c.socketDir, 0o700); err != nil {
		return fmt.Errorf("failed to create socket dir: %w", err)
	}

	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
	}

	cmd := exec.Command(c.bin, "-n", c.SocketPath(sessionID), shell)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to spawn detached session: %w", err)
	}

	c.logger.Info("spawned detached session",
		zap.String("session_id", sessionID),
		zap.String("cwd", cwd),
		zap.String("shell", shell))
	return nil
}

// AttachCommand builds the command that attaches to a session. The
// caller runs it under a PTY to bridge I/O; killing the attach process
// detaches without affecting the session.
func (c *Client) AttachCommand(sessionID string) *exec.Cmd {
	return exec.Command(c.bin, "-a", c.SocketPath(sessionID))
}

// KillSession terminates the session's master process and removes the
// socket. Fire-and-forget: a session that is already gone is not an
// error.
func (c *Client) KillSession(sessionID string) error {
	sock := c.SocketPath(sessionID)

	if pid, ok := c.masterPID(sessionID); ok {
		proc, err := os.FindProcess(pid)
		if err == nil {
			_ = proc.Kill()
		}
	}

	if err := os.Remove(sock); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove socket: %w", err)
	}
	return nil
}

// KillClaudeInSession kills a known agent child process inside the
// session without tearing the session down. Returns whether a process
// was signalled.
func (c *Client) KillClaudeInSession(sessionID string) bool {
	master, ok := c.masterPID(sessionID)
	if !ok {
		return false
	}

	killed := false
	for _, pid := range descendantPIDs(master) {
		if strings.Contains(processComm(pid), "claude") {
			if proc, err := os.FindProcess(pid); err == nil && proc.Kill() == nil {
				killed = true
			}
		}
	}
	return killed
}

// masterPID finds the dtach master process for a session by matching
// the socket path in its command line.
func (c *Client) masterPID(sessionID string) (int, bool) {
	out, err := exec.Command("pgrep", "-f", c.SocketPath(sessionID)).Output()
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil && pid != os.Getpid() {
			return pid, true
		}
	}
	return 0, false
}

// descendantPIDs walks pgrep -P one level at a time from the master.
func descendantPIDs(root int) []int {
	var out []int
	frontier := []int{root}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]

		raw, err := exec.Command("pgrep", "-P", strconv.Itoa(next)).Output()
		if err != nil {
			continue
		}
		for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
			if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
				out = append(out, pid)
				frontier = append(frontier, pid)
			}
		}
	}
	return out
}

// processComm reads the short command name for a PID.
func processComm(pid int) string {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
