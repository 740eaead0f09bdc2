package term

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/termhub/termhub/internal/logging"
	"github.com/termhub/termhub/internal/shared/id"
	"go.uber.org/zap"
)

// Session owns one terminal's identity, geometry, and scrollback
// buffer, and bridges between the detachable session utility and
// in-process consumers.
//
// The underlying shell lives inside a detached utility session named
// after the terminal ID, so it survives this process. Attach and
// Detach only connect and disconnect the in-process I/O bridge.
type Session struct {
	mu   sync.Mutex
	info Info

	buffer *Buffer
	util   Utility
	shell  string
	logger *logging.Logger

	// I/O bridge. ptmx is the PTY the attach process runs under; nil
	// when detached.
	attachCmd *exec.Cmd
	ptmx      *os.File
	attached  bool
	detaching bool

	exitOnce sync.Once
	onData   func(data []byte)
	onExit   func(exitCode int)
}

// NewSession builds a session around existing terminal info. The
// terminal may or may not have a live utility session yet; Start
// creates one, restore paths skip it.
func NewSession(info Info, util Utility, shell string, logger *logging.Logger) *Session {
	return &Session{
		info:   info,
		buffer: NewBuffer(),
		util:   util,
		shell:  shell,
		logger: logger.Component("session").With(zap.String("terminal_id", info.ID.String())),
	}
}

// SetCallbacks wires output and exit delivery. Must be called before
// Attach.
func (s *Session) SetCallbacks(onData func([]byte), onExit func(int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onData = onData
	s.onExit = onExit
}

// Start spawns the shell inside a new detached utility session bound
// to the terminal's ID.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.util.SpawnDetached(s.info.ID.String(), s.info.Cwd, s.shell); err != nil {
		s.info.Status = StatusError
		return err
	}
	s.info.Status = StatusRunning
	return nil
}

// Attach connects the in-process I/O bridge: the utility's attach
// process runs under a PTY sized to the terminal's geometry, and its
// output is pumped into the buffer and the onData callback.
//
// Attach is idempotent; attaching an already-attached session is a
// no-op.
func (s *Session) Attach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attached {
		return nil
	}

	cmd := s.util.AttachCommand(s.info.ID.String())
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: ptyDim(s.info.Rows),
		Cols: ptyDim(s.info.Cols),
	})
	if err != nil {
		return fmt.Errorf("failed to attach: %w", err)
	}

	s.attachCmd = cmd
	s.ptmx = ptmx
	s.attached = true
	s.detaching = false

	go s.bridge(cmd, ptmx)
	return nil
}

// bridge pumps attach-process output into the buffer and callback,
// then decides whether the bridge closed because of a detach or
// because the underlying session died.
func (s *Session) bridge(cmd *exec.Cmd, ptmx *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			s.buffer.Append(data)

			s.mu.Lock()
			onData := s.onData
			s.mu.Unlock()
			if onData != nil {
				onData(data)
			}
		}
		if err != nil {
			break
		}
	}

	_ = cmd.Wait()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	s.mu.Lock()
	wasDetaching := s.detaching
	s.attached = false
	s.ptmx = nil
	s.attachCmd = nil
	s.mu.Unlock()

	if wasDetaching {
		return
	}

	// The bridge dropped without a deliberate detach. If the utility
	// session is gone the shell exited; report it exactly once.
	if !s.util.HasSession(s.info.ID.String()) {
		s.fireExit(exitCode)
	}
}

func (s *Session) fireExit(exitCode int) {
	s.exitOnce.Do(func() {
		s.mu.Lock()
		s.info.Status = StatusExited
		s.info.ExitCode = &exitCode
		onExit := s.onExit
		s.mu.Unlock()

		s.logger.Info("terminal exited", zap.Int("exit_code", exitCode))
		if onExit != nil {
			onExit(exitCode)
		}
	})
}

// Detach disconnects the I/O bridge without affecting the underlying
// session's lifetime.
func (s *Session) Detach() {
	s.mu.Lock()
	if !s.attached {
		s.mu.Unlock()
		return
	}
	s.detaching = true
	ptmx := s.ptmx
	cmd := s.attachCmd
	s.mu.Unlock()

	if ptmx != nil {
		_ = ptmx.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Attached reports whether the I/O bridge is connected.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// Write forwards keystrokes to the terminal. The bridge must be
// attached.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()

	if ptmx == nil {
		return fmt.Errorf("terminal %s is not attached", s.info.ID)
	}
	_, err := ptmx.Write(data)
	return err
}

// Resize records new geometry and propagates it to the PTY when
// attached.
func (s *Session) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info.Cols = cols
	s.info.Rows = rows

	if s.ptmx == nil {
		return nil
	}
	return pty.Setsize(s.ptmx, &pty.Winsize{
		Rows: ptyDim(rows),
		Cols: ptyDim(cols),
	})
}

// ptyDim clamps a dimension to the PTY window-size field range; a
// conversion above 65535 would otherwise wrap to a tiny or zero value.
func ptyDim(v int) uint16 {
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}

// Kill terminates the underlying utility session and the bridge. No
// exit event fires; destruction is reported separately by the caller.
func (s *Session) Kill() {
	// Consume the exit notification so a racing bridge shutdown stays
	// silent.
	s.exitOnce.Do(func() {})

	s.mu.Lock()
	s.detaching = true
	ptmx := s.ptmx
	cmd := s.attachCmd
	s.info.Status = StatusExited
	s.mu.Unlock()

	if ptmx != nil {
		_ = ptmx.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if err := s.util.KillSession(s.info.ID.String()); err != nil {
		s.logger.Warn("failed to kill utility session", zap.Error(err))
	}
}

// Info returns a snapshot of the terminal's public state.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Buffer returns the session's scrollback buffer.
func (s *Session) Buffer() *Buffer {
	return s.buffer
}

// setName, setTab and setStatus keep Info mutations inside the session.

func (s *Session) setName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Name = name
}

func (s *Session) setTab(tabID *id.TabID, position int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.TabID = tabID
	s.info.PositionInTab = position
}
