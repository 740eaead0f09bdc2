package term

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/termhub/termhub/internal/logging"
	"github.com/termhub/termhub/internal/shared/id"
	"go.uber.org/zap"
)

// Restore probing. The utility's session registration can lag service
// startup, so an absent session is re-probed a few times before the
// terminal is demoted to exited.
const (
	restoreProbeAttempts = 3
	restoreProbeDelay    = 100 * time.Millisecond
)

// DataHandler receives output produced by a terminal.
type DataHandler func(tid id.TerminalID, data []byte)

// ExitHandler receives a terminal's process exit, exactly once per
// terminal.
type ExitHandler func(tid id.TerminalID, exitCode int)

// Options configures a Manager.
type Options struct {
	// Shell spawned in new sessions; empty means $SHELL.
	Shell string

	// BufferDir is where scrollback buffers are persisted. Empty
	// disables buffer persistence.
	BufferDir string

	// ReuseByCwd returns an existing running terminal when a create
	// request names a working directory that already has one.
	ReuseByCwd bool
}

// CreateOptions are the caller-supplied attributes for a new terminal.
type CreateOptions struct {
	Name          string
	Cwd           string
	Cols          int
	Rows          int
	TabID         *id.TabID
	PositionInTab int
}

// Manager is the aggregate root for terminal sessions: it creates,
// destroys, and restores them, persists their metadata, and routes
// commands to the addressed session.
//
// Operations addressed to an unknown terminal return false/nil rather
// than an error; callers treat that as a normal, recoverable condition
// (the terminal may have exited concurrently).
type Manager struct {
	mu       sync.RWMutex
	sessions map[id.TerminalID]*Session

	util    Utility
	records Records
	opts    Options
	logger  *logging.Logger

	onData DataHandler
	onExit ExitHandler
}

// NewManager creates a manager. The utility and records store are
// injected; the manager is constructed once at startup and handed to
// every collaborator that needs it.
func NewManager(util Utility, records Records, opts Options, logger *logging.Logger) *Manager {
	return &Manager{
		sessions: make(map[id.TerminalID]*Session),
		util:     util,
		records:  records,
		opts:     opts,
		logger:   logger.Component("pty-manager"),
	}
}

// SetHandlers wires output and exit delivery. Must be called before
// terminals are created or attached.
func (m *Manager) SetHandlers(onData DataHandler, onExit ExitHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onData = onData
	m.onExit = onExit
}

// UtilityAvailable reports whether the detachable session utility is
// installed on this host.
func (m *Manager) UtilityAvailable() bool {
	return m.util.IsAvailable()
}

// RestoreFromStore reconstructs in-memory sessions for persisted
// terminals whose utility sessions are still alive. Terminals whose
// sessions cannot be found after the probe retries are marked exited
// in storage; they are never resurrected.
func (m *Manager) RestoreFromStore(ctx context.Context) error {
	rows, err := m.records.ListTerminals()
	if err != nil {
		return fmt.Errorf("failed to list persisted terminals: %w", err)
	}

	for _, info := range rows {
		if info.Status == StatusExited {
			continue
		}

		if !m.probeSession(ctx, info.ID) {
			m.logger.Warn("persisted terminal has no live session, marking exited",
				zap.String("terminal_id", info.ID.String()))
			if err := m.records.SetTerminalStatus(info.ID, StatusExited, nil); err != nil {
				m.logger.Error("failed to demote terminal", zap.Error(err))
			}
			continue
		}

		info.Status = StatusRunning
		sess := NewSession(info, m.util, m.opts.Shell, m.logger)
		m.wireSession(sess)
		m.loadBuffer(sess)

		m.mu.Lock()
		m.sessions[info.ID] = sess
		m.mu.Unlock()

		m.logger.Info("restored terminal session",
			zap.String("terminal_id", info.ID.String()),
			zap.String("cwd", info.Cwd))
	}
	return nil
}

// probeSession checks for a live utility session, retrying to cover
// the startup race where the utility's registration lags.
func (m *Manager) probeSession(ctx context.Context, tid id.TerminalID) bool {
	for attempt := 0; attempt < restoreProbeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(restoreProbeDelay):
			}
		}
		if m.util.HasSession(tid.String()) {
			return true
		}
	}
	return false
}

// Create allocates a terminal and starts its shell. The persisted row
// is written before the process starts, so a crash between the two
// leaves a discoverable record rather than an untracked process.
//
// When duplicate-cwd reuse is enabled and a running terminal already
// exists for the requested working directory, that terminal is
// returned instead and the second return value is false.
func (m *Manager) Create(opts CreateOptions) (Info, bool, error) {
	if !m.util.IsAvailable() {
		return Info{}, false, fmt.Errorf("detachable session utility is not installed")
	}

	if opts.Cols <= 0 {
		opts.Cols = 80
	}
	if opts.Rows <= 0 {
		opts.Rows = 24
	}
	if opts.Cwd == "" {
		opts.Cwd = os.Getenv("HOME")
		if opts.Cwd == "" {
			opts.Cwd = "/tmp"
		}
	}

	if m.opts.ReuseByCwd {
		if existing, ok := m.findRunningByCwd(opts.Cwd); ok {
			m.logger.Info("reusing running terminal for cwd",
				zap.String("terminal_id", existing.ID.String()),
				zap.String("cwd", opts.Cwd))
			return existing, false, nil
		}
	}

	info := Info{
		ID:            id.NewTerminalID(),
		Name:          opts.Name,
		Cwd:           opts.Cwd,
		Cols:          opts.Cols,
		Rows:          opts.Rows,
		Status:        StatusRunning,
		TabID:         opts.TabID,
		PositionInTab: opts.PositionInTab,
		CreatedAt:     time.Now().UTC(),
	}
	if info.Name == "" {
		info.Name = filepath.Base(opts.Cwd)
	}

	if err := m.records.InsertTerminal(info); err != nil {
		return Info{}, false, fmt.Errorf("failed to persist terminal: %w", err)
	}

	sess := NewSession(info, m.util, m.opts.Shell, m.logger)
	m.wireSession(sess)

	if err := sess.Start(); err != nil {
		if serr := m.records.SetTerminalStatus(info.ID, StatusError, nil); serr != nil {
			m.logger.Error("failed to record terminal error state", zap.Error(serr))
		}
		return Info{}, false, fmt.Errorf("failed to start terminal: %w", err)
	}

	m.mu.Lock()
	m.sessions[info.ID] = sess
	m.mu.Unlock()

	m.logger.Info("created terminal",
		zap.String("terminal_id", info.ID.String()),
		zap.String("cwd", info.Cwd))
	return sess.Info(), true, nil
}

func (m *Manager) findRunningByCwd(cwd string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.sessions {
		info := sess.Info()
		if info.Status == StatusRunning && info.Cwd == cwd {
			return info, true
		}
	}
	return Info{}, false
}

// wireSession connects a session's callbacks to the manager-level
// handlers and the exit bookkeeping.
func (m *Manager) wireSession(sess *Session) {
	tid := sess.Info().ID
	sess.SetCallbacks(
		func(data []byte) {
			m.mu.RLock()
			onData := m.onData
			m.mu.RUnlock()
			if onData != nil {
				onData(tid, data)
			}
		},
		func(exitCode int) {
			if err := m.records.SetTerminalStatus(tid, StatusExited, &exitCode); err != nil {
				m.logger.Error("failed to persist terminal exit",
					zap.String("terminal_id", tid.String()), zap.Error(err))
			}
			m.saveBuffer(sess)

			m.mu.RLock()
			onExit := m.onExit
			m.mu.RUnlock()
			if onExit != nil {
				onExit(tid, exitCode)
			}
		},
	)
}

// Attach ensures the terminal's I/O bridge is connected and returns
// the scrollback replay. Idempotent: attaching twice wires nothing
// twice and replays the same state.
func (m *Manager) Attach(tid id.TerminalID) ([]byte, bool) {
	sess, ok := m.session(tid)
	if !ok {
		return nil, false
	}
	if err := sess.Attach(); err != nil {
		m.logger.Error("failed to attach terminal",
			zap.String("terminal_id", tid.String()), zap.Error(err))
		return nil, false
	}
	return sess.Buffer().Contents(), true
}

// Write forwards input to the addressed terminal.
func (m *Manager) Write(tid id.TerminalID, data []byte) bool {
	sess, ok := m.session(tid)
	if !ok {
		return false
	}
	if err := sess.Write(data); err != nil {
		m.logger.Debug("terminal write failed",
			zap.String("terminal_id", tid.String()), zap.Error(err))
		return false
	}
	return true
}

// Resize propagates new geometry and persists it.
func (m *Manager) Resize(tid id.TerminalID, cols, rows int) bool {
	if cols <= 0 || rows <= 0 {
		return false
	}
	sess, ok := m.session(tid)
	if !ok {
		return false
	}
	if err := sess.Resize(cols, rows); err != nil {
		m.logger.Warn("terminal resize failed",
			zap.String("terminal_id", tid.String()), zap.Error(err))
	}
	m.persist(sess)
	return true
}

// Rename updates the terminal's display name.
func (m *Manager) Rename(tid id.TerminalID, name string) bool {
	sess, ok := m.session(tid)
	if !ok {
		return false
	}
	sess.setName(name)
	m.persist(sess)
	return true
}

// AssignTab moves the terminal to a tab (or out of all tabs when tabID
// is nil).
func (m *Manager) AssignTab(tid id.TerminalID, tabID *id.TabID, position int) bool {
	sess, ok := m.session(tid)
	if !ok {
		return false
	}
	sess.setTab(tabID, position)
	m.persist(sess)
	return true
}

// ClearTabRefs detaches every in-memory session from a deleted tab.
// Persisted rows are cleared by the tab registry's cascade.
func (m *Manager) ClearTabRefs(tabID id.TabID) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.sessions {
		info := sess.Info()
		if info.TabID != nil && *info.TabID == tabID {
			sess.setTab(nil, 0)
		}
	}
}

// BufferContents returns the terminal's replayable scrollback.
func (m *Manager) BufferContents(tid id.TerminalID) ([]byte, bool) {
	sess, ok := m.session(tid)
	if !ok {
		return nil, false
	}
	return sess.Buffer().Contents(), true
}

// ClearBuffer drops the terminal's scrollback.
func (m *Manager) ClearBuffer(tid id.TerminalID) bool {
	sess, ok := m.session(tid)
	if !ok {
		return false
	}
	sess.Buffer().Clear()
	return true
}

// KillAgent best-effort kills the known agent child process inside the
// terminal's session without tearing the session down.
func (m *Manager) KillAgent(tid id.TerminalID) bool {
	if _, ok := m.session(tid); !ok {
		return false
	}
	return m.util.KillClaudeInSession(tid.String())
}

// Get returns the terminal's info.
func (m *Manager) Get(tid id.TerminalID) (Info, bool) {
	sess, ok := m.session(tid)
	if !ok {
		return Info{}, false
	}
	return sess.Info(), true
}

// List returns every known terminal, live sessions first-hand and
// exited ones from storage.
func (m *Manager) List() []Info {
	rows, err := m.records.ListTerminals()
	if err != nil {
		m.logger.Error("failed to list terminals", zap.Error(err))
		rows = nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(rows))
	for _, row := range rows {
		if sess, ok := m.sessions[row.ID]; ok {
			out = append(out, sess.Info())
		} else {
			out = append(out, row)
		}
	}
	return out
}

// Destroy kills the terminal's process, removes the in-memory session,
// and deletes the persisted row. Returns whether a session existed.
func (m *Manager) Destroy(tid id.TerminalID) bool {
	m.mu.Lock()
	sess, ok := m.sessions[tid]
	delete(m.sessions, tid)
	m.mu.Unlock()

	if ok {
		sess.Kill()
	}

	if err := m.records.DeleteTerminal(tid); err != nil {
		m.logger.Error("failed to delete terminal row",
			zap.String("terminal_id", tid.String()), zap.Error(err))
	}
	m.removeBufferFile(tid)

	return ok
}

// DestroyAll is the controlled full teardown: every session is killed
// and all persisted rows are cleared. Distinct from DetachAll, the
// restart path.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[id.TerminalID]*Session)
	m.mu.Unlock()

	for tid, sess := range sessions {
		sess.Kill()
		m.removeBufferFile(tid)
	}
	if err := m.records.DeleteAllTerminals(); err != nil {
		m.logger.Error("failed to clear terminal rows", zap.Error(err))
	}
}

// DetachAll disconnects every I/O bridge and persists buffers, leaving
// utility sessions alive. Used at server shutdown so terminals survive
// a restart.
func (m *Manager) DetachAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		m.saveBuffer(sess)
		sess.Detach()
	}
}

func (m *Manager) session(tid id.TerminalID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[tid]
	return sess, ok
}

func (m *Manager) persist(sess *Session) {
	if err := m.records.UpdateTerminal(sess.Info()); err != nil {
		m.logger.Error("failed to persist terminal", zap.Error(err))
	}
}

// Buffer persistence is best-effort: scrollback loss on a disk failure
// is acceptable, session liveness is not.

func (m *Manager) bufferPath(tid id.TerminalID) string {
	return filepath.Join(m.opts.BufferDir, tid.String()+".buf")
}

func (m *Manager) saveBuffer(sess *Session) {
	if m.opts.BufferDir == "" {
		return
	}
	if err := os.MkdirAll(m.opts.BufferDir, 0o700); err != nil {
		m.logger.Warn("failed to create buffer dir", zap.Error(err))
		return
	}
	tid := sess.Info().ID
	if err := sess.Buffer().SaveToFile(m.bufferPath(tid)); err != nil {
		m.logger.Warn("failed to save buffer",
			zap.String("terminal_id", tid.String()), zap.Error(err))
	}
}

func (m *Manager) loadBuffer(sess *Session) {
	if m.opts.BufferDir == "" {
		return
	}
	path := m.bufferPath(sess.Info().ID)
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := sess.Buffer().LoadFromFile(path); err != nil {
		m.logger.Warn("failed to load buffer",
			zap.String("terminal_id", sess.Info().ID.String()), zap.Error(err))
	}
}

func (m *Manager) removeBufferFile(tid id.TerminalID) {
	if m.opts.BufferDir == "" {
		return
	}
	if err := os.Remove(m.bufferPath(tid)); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove buffer file", zap.Error(err))
	}
}
