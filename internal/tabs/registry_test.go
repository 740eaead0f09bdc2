package tabs_test

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/termhub/termhub/internal/logging"
	"github.com/termhub/termhub/internal/shared/id"
	"github.com/termhub/termhub/internal/store"
	"github.com/termhub/termhub/internal/tabs"
)

// refRecorder records delete cascades into the terminal subsystem.
type refRecorder struct {
	mu      sync.Mutex
	cleared []id.TabID
}

func (r *refRecorder) ClearTabRefs(tabID id.TabID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, tabID)
}

func newTestRegistry(t *testing.T) (*tabs.Registry, *refRecorder) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), 1, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	refs := &refRecorder{}
	return tabs.NewRegistry(s, refs, logging.NewNop()), refs
}

func requireDensePositions(t *testing.T, r *tabs.Registry) []tabs.Tab {
	t.Helper()
	list, err := r.List()
	require.NoError(t, err)
	for i, tab := range list {
		require.Equal(t, i, tab.Position, "positions must stay a dense 0..N-1 permutation")
	}
	return list
}

func TestCreateAppendsAndNames(t *testing.T) {
	r, _ := newTestRegistry(t)

	first, err := r.Create(tabs.CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Tab 1", first.Name)
	assert.Equal(t, 0, first.Position)

	second, err := r.Create(tabs.CreateOptions{Name: "work"})
	require.NoError(t, err)
	assert.Equal(t, "work", second.Name)
	assert.Equal(t, 1, second.Position)

	requireDensePositions(t, r)
}

func TestCreateAtPositionShifts(t *testing.T) {
	r, _ := newTestRegistry(t)

	a, err := r.Create(tabs.CreateOptions{Name: "a"})
	require.NoError(t, err)
	_, err = r.Create(tabs.CreateOptions{Name: "b"})
	require.NoError(t, err)

	pos := 0
	front, err := r.Create(tabs.CreateOptions{Name: "front", Position: &pos})
	require.NoError(t, err)
	assert.Equal(t, 0, front.Position)

	list := requireDensePositions(t, r)
	assert.Equal(t, front.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
}

func TestCreatePositionClamped(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Create(tabs.CreateOptions{})
	require.NoError(t, err)

	pos := 99
	tab, err := r.Create(tabs.CreateOptions{Position: &pos})
	require.NoError(t, err)
	assert.Equal(t, 1, tab.Position)

	neg := -5
	tab, err = r.Create(tabs.CreateOptions{Position: &neg})
	require.NoError(t, err)
	assert.Equal(t, 0, tab.Position)

	requireDensePositions(t, r)
}

func TestUpdatePartial(t *testing.T) {
	r, _ := newTestRegistry(t)

	dir := "/srv"
	tab, err := r.Create(tabs.CreateOptions{Name: "old", Directory: &dir})
	require.NoError(t, err)

	name := "new"
	got, err := r.Update(tab.ID, tabs.UpdateOptions{Name: &name})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.Name)
	require.NotNil(t, got.Directory)
	assert.Equal(t, "/srv", *got.Directory)

	got, err = r.Update(tab.ID, tabs.UpdateOptions{ClearDirectory: true})
	require.NoError(t, err)
	assert.Nil(t, got.Directory)
	assert.Equal(t, "new", got.Name)
}

func TestUpdateUnknownTab(t *testing.T) {
	r, _ := newTestRegistry(t)
	got, err := r.Update(id.NewTabID(), tabs.UpdateOptions{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteCascades(t *testing.T) {
	r, refs := newTestRegistry(t)

	a, err := r.Create(tabs.CreateOptions{Name: "a"})
	require.NoError(t, err)
	b, err := r.Create(tabs.CreateOptions{Name: "b"})
	require.NoError(t, err)
	c, err := r.Create(tabs.CreateOptions{Name: "c"})
	require.NoError(t, err)

	// b is active and has a focused terminal.
	ok, err := r.SetActiveTab(b.ID)
	require.NoError(t, err)
	require.True(t, ok)
	terminal := id.NewTerminalID()
	require.NoError(t, r.FocusTerminal(b.ID, terminal))

	existed, err := r.Delete(b.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	list := requireDensePositions(t, r)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, c.ID, list[1].ID)

	// Terminal subsystem was told to drop references.
	assert.Equal(t, []id.TabID{b.ID}, refs.cleared)

	// Active tab fell back to the first remaining tab; the focused
	// entry for the deleted tab is gone.
	vs, err := r.ViewState()
	require.NoError(t, err)
	require.NotNil(t, vs.ActiveTabID)
	assert.Equal(t, a.ID, *vs.ActiveTabID)
	assert.NotContains(t, vs.Focused, b.ID)
}

func TestDeleteLastTabClearsActive(t *testing.T) {
	r, _ := newTestRegistry(t)

	only, err := r.Create(tabs.CreateOptions{})
	require.NoError(t, err)
	ok, err := r.SetActiveTab(only.ID)
	require.NoError(t, err)
	require.True(t, ok)

	existed, err := r.Delete(only.ID)
	require.NoError(t, err)
	require.True(t, existed)

	vs, err := r.ViewState()
	require.NoError(t, err)
	assert.Nil(t, vs.ActiveTabID)
}

func TestDeleteUnknownTab(t *testing.T) {
	r, refs := newTestRegistry(t)
	existed, err := r.Delete(id.NewTabID())
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Empty(t, refs.cleared)
}

func TestReorderKeepsPermutation(t *testing.T) {
	r, _ := newTestRegistry(t)

	created := make([]tabs.Tab, 5)
	for i := range created {
		tab, err := r.Create(tabs.CreateOptions{})
		require.NoError(t, err)
		created[i] = tab
	}

	moved, err := r.Reorder(created[0].ID, 3)
	require.NoError(t, err)
	require.NotNil(t, moved)
	assert.Equal(t, 3, moved.Position)

	list := requireDensePositions(t, r)
	assert.Equal(t, created[1].ID, list[0].ID)
	assert.Equal(t, created[0].ID, list[3].ID)

	// Out-of-range target clamps to the last slot.
	moved, err = r.Reorder(created[2].ID, 42)
	require.NoError(t, err)
	assert.Equal(t, 4, moved.Position)
	requireDensePositions(t, r)

	// Same-position reorder is a no-op.
	before := requireDensePositions(t, r)
	moved, err = r.Reorder(moved.ID, moved.Position)
	require.NoError(t, err)
	after := requireDensePositions(t, r)
	assert.Equal(t, before, after)
}

func TestReorderUnknownTab(t *testing.T) {
	r, _ := newTestRegistry(t)
	got, err := r.Reorder(id.NewTabID(), 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEnsureDefaultTab(t *testing.T) {
	r, _ := newTestRegistry(t)

	tab, err := r.EnsureDefaultTab()
	require.NoError(t, err)
	assert.Equal(t, tabs.DefaultTabName, tab.Name)
	assert.Equal(t, 0, tab.Position)

	// Idempotent: an existing first tab is returned, not duplicated.
	again, err := r.EnsureDefaultTab()
	require.NoError(t, err)
	assert.Equal(t, tab.ID, again.ID)

	list, err := r.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSetActiveTabRejectsUnknown(t *testing.T) {
	r, _ := newTestRegistry(t)
	ok, err := r.SetActiveTab(id.NewTabID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFocusTerminal(t *testing.T) {
	r, _ := newTestRegistry(t)

	tab, err := r.Create(tabs.CreateOptions{})
	require.NoError(t, err)
	terminal := id.NewTerminalID()
	require.NoError(t, r.FocusTerminal(tab.ID, terminal))

	vs, err := r.ViewState()
	require.NoError(t, err)
	assert.Equal(t, terminal, vs.Focused[tab.ID])
}
