package term

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/termhub/termhub/internal/logging"
	"github.com/termhub/termhub/internal/shared/id"
)

// fakeUtility simulates the detachable session utility without
// spawning processes.
type fakeUtility struct {
	mu        sync.Mutex
	available bool
	sessions  map[string]bool
	spawnErr  error
	probes    int
}

func newFakeUtility() *fakeUtility {
	return &fakeUtility{available: true, sessions: make(map[string]bool)}
}

func (f *fakeUtility) IsAvailable() bool { return f.available }

func (f *fakeUtility) HasSession(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.sessions[sessionID]
}

func (f *fakeUtility) SocketPath(sessionID string) string { return "/tmp/fake/" + sessionID }

func (f *fakeUtility) SpawnDetached(sessionID, cwd, shell string) error {
	if f.spawnErr != nil {
		return f.spawnErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID] = true
	return nil
}

func (f *fakeUtility) AttachCommand(sessionID string) *exec.Cmd {
	return exec.Command("cat")
}

func (f *fakeUtility) KillSession(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeUtility) KillClaudeInSession(sessionID string) bool { return false }

// fakeRecords is an in-memory Records implementation.
type fakeRecords struct {
	mu   sync.Mutex
	rows map[id.TerminalID]Info
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{rows: make(map[id.TerminalID]Info)}
}

func (f *fakeRecords) InsertTerminal(info Info) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[info.ID] = info
	return nil
}

func (f *fakeRecords) UpdateTerminal(info Info) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[info.ID] = info
	return nil
}

func (f *fakeRecords) SetTerminalStatus(tid id.TerminalID, status Status, exitCode *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[tid]
	if !ok {
		return nil
	}
	row.Status = status
	row.ExitCode = exitCode
	f.rows[tid] = row
	return nil
}

func (f *fakeRecords) DeleteTerminal(tid id.TerminalID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, tid)
	return nil
}

func (f *fakeRecords) DeleteAllTerminals() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = make(map[id.TerminalID]Info)
	return nil
}

func (f *fakeRecords) ListTerminals() ([]Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Info, 0, len(f.rows))
	for _, row := range f.rows {
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeRecords) get(tid id.TerminalID) (Info, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[tid]
	return row, ok
}

func newTestManager(t *testing.T, util Utility, records Records, opts Options) *Manager {
	t.Helper()
	m := NewManager(util, records, opts, logging.NewNop())
	m.SetHandlers(func(id.TerminalID, []byte) {}, func(id.TerminalID, int) {})
	return m
}

func TestManagerCreateDefaults(t *testing.T) {
	util := newFakeUtility()
	records := newFakeRecords()
	m := newTestManager(t, util, records, Options{})

	info, isNew, err := m.Create(CreateOptions{Cwd: "/tmp"})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, 80, info.Cols)
	assert.Equal(t, 24, info.Rows)
	assert.Equal(t, StatusRunning, info.Status)
	assert.Equal(t, "tmp", info.Name)

	row, ok := records.get(info.ID)
	require.True(t, ok)
	assert.Equal(t, "/tmp", row.Cwd)
}

func TestManagerCreateUtilityMissing(t *testing.T) {
	util := newFakeUtility()
	util.available = false
	m := newTestManager(t, util, newFakeRecords(), Options{})

	_, _, err := m.Create(CreateOptions{Cwd: "/tmp"})
	assert.Error(t, err)
}

func TestManagerCreatePersistsBeforeSpawnFailure(t *testing.T) {
	util := newFakeUtility()
	util.spawnErr = assert.AnError
	records := newFakeRecords()
	m := newTestManager(t, util, records, Options{})

	_, _, err := m.Create(CreateOptions{Cwd: "/tmp"})
	require.Error(t, err)

	// The row was written before the spawn attempt and demoted to error.
	rows, _ := records.ListTerminals()
	require.Len(t, rows, 1)
	assert.Equal(t, StatusError, rows[0].Status)
}

func TestManagerDuplicateCwdReuse(t *testing.T) {
	util := newFakeUtility()
	m := newTestManager(t, util, newFakeRecords(), Options{ReuseByCwd: true})

	first, isNew, err := m.Create(CreateOptions{Cwd: "/work"})
	require.NoError(t, err)
	require.True(t, isNew)

	second, isNew, err := m.Create(CreateOptions{Cwd: "/work"})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)

	// A different directory still gets a fresh terminal.
	third, isNew, err := m.Create(CreateOptions{Cwd: "/other"})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestManagerDuplicateCwdReuseDisabled(t *testing.T) {
	util := newFakeUtility()
	m := newTestManager(t, util, newFakeRecords(), Options{ReuseByCwd: false})

	first, _, err := m.Create(CreateOptions{Cwd: "/work"})
	require.NoError(t, err)
	second, isNew, err := m.Create(CreateOptions{Cwd: "/work"})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestManagerRestoreDemotesDeadSessions(t *testing.T) {
	util := newFakeUtility()
	records := newFakeRecords()

	dead := Info{
		ID:        id.NewTerminalID(),
		Name:      "dead",
		Cwd:       "/tmp",
		Cols:      80,
		Rows:      24,
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, records.InsertTerminal(dead))

	m := newTestManager(t, util, records, Options{})
	require.NoError(t, m.RestoreFromStore(context.Background()))

	// All probe attempts were spent before demoting.
	assert.Equal(t, restoreProbeAttempts, util.probes)

	row, ok := records.get(dead.ID)
	require.True(t, ok)
	assert.Equal(t, StatusExited, row.Status)

	// Demoted terminals are not resurrected as sessions.
	_, ok = m.Get(dead.ID)
	assert.False(t, ok)
}

func TestManagerRestoreReconstructsLiveSessions(t *testing.T) {
	util := newFakeUtility()
	records := newFakeRecords()

	live := Info{
		ID:        id.NewTerminalID(),
		Name:      "live",
		Cwd:       "/tmp",
		Cols:      120,
		Rows:      40,
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, records.InsertTerminal(live))
	util.sessions[live.ID.String()] = true

	m := newTestManager(t, util, records, Options{})
	require.NoError(t, m.RestoreFromStore(context.Background()))

	got, ok := m.Get(live.ID)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 120, got.Cols)
}

func TestManagerRestoreSkipsExited(t *testing.T) {
	util := newFakeUtility()
	records := newFakeRecords()

	code := 0
	exited := Info{
		ID:        id.NewTerminalID(),
		Status:    StatusExited,
		ExitCode:  &code,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, records.InsertTerminal(exited))

	m := newTestManager(t, util, records, Options{})
	require.NoError(t, m.RestoreFromStore(context.Background()))

	assert.Zero(t, util.probes)
	_, ok := m.Get(exited.ID)
	assert.False(t, ok)
}

func TestManagerSentinelReturnsForUnknownTerminal(t *testing.T) {
	m := newTestManager(t, newFakeUtility(), newFakeRecords(), Options{})
	unknown := id.NewTerminalID()

	assert.False(t, m.Write(unknown, []byte("x")))
	assert.False(t, m.Resize(unknown, 80, 24))
	assert.False(t, m.Rename(unknown, "n"))
	assert.False(t, m.AssignTab(unknown, nil, 0))
	assert.False(t, m.ClearBuffer(unknown))
	assert.False(t, m.Destroy(unknown))
	_, ok := m.Get(unknown)
	assert.False(t, ok)
	_, ok = m.BufferContents(unknown)
	assert.False(t, ok)
	_, ok = m.Attach(unknown)
	assert.False(t, ok)
}

func TestManagerRenamePersists(t *testing.T) {
	records := newFakeRecords()
	m := newTestManager(t, newFakeUtility(), records, Options{})

	info, _, err := m.Create(CreateOptions{Cwd: "/tmp"})
	require.NoError(t, err)

	require.True(t, m.Rename(info.ID, "build"))
	got, ok := m.Get(info.ID)
	require.True(t, ok)
	assert.Equal(t, "build", got.Name)

	row, _ := records.get(info.ID)
	assert.Equal(t, "build", row.Name)
}

func TestManagerAssignTabAndClearRefs(t *testing.T) {
	m := newTestManager(t, newFakeUtility(), newFakeRecords(), Options{})

	info, _, err := m.Create(CreateOptions{Cwd: "/tmp"})
	require.NoError(t, err)

	tab := id.NewTabID()
	require.True(t, m.AssignTab(info.ID, &tab, 2))
	got, _ := m.Get(info.ID)
	require.NotNil(t, got.TabID)
	assert.Equal(t, tab, *got.TabID)
	assert.Equal(t, 2, got.PositionInTab)

	m.ClearTabRefs(tab)
	got, _ = m.Get(info.ID)
	assert.Nil(t, got.TabID)
	assert.Zero(t, got.PositionInTab)
}

func TestManagerDestroy(t *testing.T) {
	util := newFakeUtility()
	records := newFakeRecords()
	m := newTestManager(t, util, records, Options{})

	info, _, err := m.Create(CreateOptions{Cwd: "/tmp"})
	require.NoError(t, err)

	assert.True(t, m.Destroy(info.ID))
	_, ok := records.get(info.ID)
	assert.False(t, ok)
	assert.False(t, util.HasSession(info.ID.String()))

	// Destroying again reports no session.
	assert.False(t, m.Destroy(info.ID))
}

func TestManagerDestroyAll(t *testing.T) {
	records := newFakeRecords()
	m := newTestManager(t, newFakeUtility(), records, Options{})

	for _, cwd := range []string{"/a", "/b", "/c"} {
		_, _, err := m.Create(CreateOptions{Cwd: cwd})
		require.NoError(t, err)
	}

	m.DestroyAll()
	rows, _ := records.ListTerminals()
	assert.Empty(t, rows)
	assert.Empty(t, m.List())
}

func TestManagerListMergesLiveAndStored(t *testing.T) {
	records := newFakeRecords()
	m := newTestManager(t, newFakeUtility(), records, Options{})

	live, _, err := m.Create(CreateOptions{Cwd: "/tmp"})
	require.NoError(t, err)

	code := 1
	stored := Info{
		ID:        id.NewTerminalID(),
		Status:    StatusExited,
		ExitCode:  &code,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, records.InsertTerminal(stored))

	list := m.List()
	require.Len(t, list, 2)

	byID := make(map[id.TerminalID]Info, len(list))
	for _, info := range list {
		byID[info.ID] = info
	}
	assert.Equal(t, StatusRunning, byID[live.ID].Status)
	assert.Equal(t, StatusExited, byID[stored.ID].Status)
}

func TestManagerAttachIdempotent(t *testing.T) {
	util := newFakeUtility()
	m := newTestManager(t, util, newFakeRecords(), Options{})

	info, _, err := m.Create(CreateOptions{Cwd: "/tmp"})
	require.NoError(t, err)
	t.Cleanup(func() { m.Destroy(info.ID) })

	first, ok := m.Attach(info.ID)
	require.True(t, ok)

	second, ok := m.Attach(info.ID)
	require.True(t, ok)
	assert.Equal(t, first, second)

	sess, ok := m.session(info.ID)
	require.True(t, ok)
	assert.True(t, sess.Attached())
}

func TestManagerBufferPersistenceAcrossRestore(t *testing.T) {
	dir := t.TempDir()
	util := newFakeUtility()
	records := newFakeRecords()

	m := newTestManager(t, util, records, Options{BufferDir: dir})
	info, _, err := m.Create(CreateOptions{Cwd: "/tmp"})
	require.NoError(t, err)

	sess, ok := m.session(info.ID)
	require.True(t, ok)
	sess.Buffer().Append([]byte("restored scrollback"))

	// Shutdown path: buffers saved, sessions left alive.
	m.DetachAll()
	require.True(t, util.HasSession(info.ID.String()))

	m2 := newTestManager(t, util, records, Options{BufferDir: dir})
	require.NoError(t, m2.RestoreFromStore(context.Background()))

	buf, ok := m2.BufferContents(info.ID)
	require.True(t, ok)
	assert.Contains(t, string(buf), "restored scrollback")
}
