// Package tabs manages first-class tab groupings of terminals.
//
// Tab positions are kept a contiguous 0..N-1 permutation at all times:
// inserting at position P shifts every tab at P or above up by one,
// deleting shifts the tabs above the hole down, and reordering shifts
// the closed interval between old and new position. Deleting a tab
// cascades into view state so clients never hold a dangling reference.
package tabs

import (
	"fmt"
	"sync"
	"time"

	"github.com/termhub/termhub/internal/logging"
	"github.com/termhub/termhub/internal/shared/id"
	"go.uber.org/zap"
)

// DefaultTabName names the lazily created first tab.
const DefaultTabName = "Default"

// TerminalRefs is the slice of the terminal subsystem the registry
// needs for delete cascades: clearing tab references held by affected
// terminals.
type TerminalRefs interface {
	ClearTabRefs(tabID id.TabID)
}

// Registry owns tab CRUD and the view-state singleton. All mutations
// are serialized by an internal mutex; the store's compound operations
// keep each mutation atomic on disk.
type Registry struct {
	mu        sync.Mutex
	records   Records
	terminals TerminalRefs
	logger    *logging.Logger
}

// NewRegistry creates a registry. terminals may be nil when no
// terminal subsystem participates in cascades (tests).
func NewRegistry(records Records, terminals TerminalRefs, logger *logging.Logger) *Registry {
	return &Registry{
		records:   records,
		terminals: terminals,
		logger:    logger.Component("tabs"),
	}
}

// CreateOptions configures a new tab. Position nil appends at the end.
type CreateOptions struct {
	Name      string
	Position  *int
	Directory *string
}

// Create inserts a new tab, shifting positions at or above the insert
// point up by one.
func (r *Registry) Create(opts CreateOptions) (Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count, err := r.records.TabCount()
	if err != nil {
		return Tab{}, fmt.Errorf("failed to count tabs: %w", err)
	}

	position := count
	if opts.Position != nil {
		position = clamp(*opts.Position, 0, count)
	}

	now := time.Now().UTC()
	tab := Tab{
		ID:        id.NewTabID(),
		Name:      opts.Name,
		Position:  position,
		Directory: opts.Directory,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if tab.Name == "" {
		tab.Name = fmt.Sprintf("Tab %d", count+1)
	}

	if err := r.records.InsertTabAt(tab); err != nil {
		return Tab{}, fmt.Errorf("failed to insert tab: %w", err)
	}

	r.logger.Info("created tab",
		zap.String("tab_id", tab.ID.String()),
		zap.Int("position", tab.Position))
	return tab, nil
}

// UpdateOptions carries partial tab updates. ClearDirectory
// distinguishes "set directory to null" from "leave unchanged".
type UpdateOptions struct {
	Name           *string
	Directory      *string
	ClearDirectory bool
}

// Update applies partial changes to a tab. Returns nil, nil when the
// tab does not exist.
func (r *Registry) Update(tid id.TabID, opts UpdateOptions) (*Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tab, err := r.records.GetTab(tid)
	if err != nil {
		return nil, err
	}
	if tab == nil {
		return nil, nil
	}

	if opts.Name != nil {
		tab.Name = *opts.Name
	}
	if opts.ClearDirectory {
		tab.Directory = nil
	} else if opts.Directory != nil {
		tab.Directory = opts.Directory
	}
	tab.UpdatedAt = time.Now().UTC()

	if err := r.records.UpdateTab(*tab); err != nil {
		return nil, fmt.Errorf("failed to update tab: %w", err)
	}
	return tab, nil
}

// Delete removes a tab, shifts the remaining positions back into a
// dense permutation, clears tab references held by terminals, and
// repairs view state: a deleted active tab falls back to the first
// remaining tab (or none), and the tab's focused-terminal entry is
// dropped. Returns whether the tab existed.
func (r *Registry) Delete(tid id.TabID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tab, err := r.records.GetTab(tid)
	if err != nil {
		return false, err
	}
	if tab == nil {
		return false, nil
	}

	if err := r.records.RemoveTab(tid); err != nil {
		return false, fmt.Errorf("failed to remove tab: %w", err)
	}

	if r.terminals != nil {
		r.terminals.ClearTabRefs(tid)
	}

	if err := r.cascadeViewState(tid); err != nil {
		r.logger.Warn("failed to repair view state after tab delete",
			zap.String("tab_id", tid.String()), zap.Error(err))
	}

	r.logger.Info("deleted tab", zap.String("tab_id", tid.String()))
	return true, nil
}

func (r *Registry) cascadeViewState(deleted id.TabID) error {
	vs, err := r.records.GetViewState()
	if err != nil {
		return err
	}

	changed := false
	if vs.ActiveTabID != nil && *vs.ActiveTabID == deleted {
		remaining, err := r.records.ListTabs()
		if err != nil {
			return err
		}
		if len(remaining) > 0 {
			first := remaining[0].ID
			vs.ActiveTabID = &first
		} else {
			vs.ActiveTabID = nil
		}
		changed = true
	}
	if _, ok := vs.Focused[deleted]; ok {
		delete(vs.Focused, deleted)
		changed = true
	}

	if !changed {
		return nil
	}
	return r.records.SetViewState(vs)
}

// Reorder moves a tab to a new position, shifting the closed interval
// between its old and new position by one in the opposite direction.
// Returns nil, nil when the tab does not exist.
func (r *Registry) Reorder(tid id.TabID, position int) (*Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tab, err := r.records.GetTab(tid)
	if err != nil {
		return nil, err
	}
	if tab == nil {
		return nil, nil
	}

	count, err := r.records.TabCount()
	if err != nil {
		return nil, err
	}
	position = clamp(position, 0, count-1)
	if position == tab.Position {
		return tab, nil
	}

	if err := r.records.ReorderTab(tid, tab.Position, position); err != nil {
		return nil, fmt.Errorf("failed to reorder tab: %w", err)
	}
	tab.Position = position
	return tab, nil
}

// Get returns a tab, or nil when unknown.
func (r *Registry) Get(tid id.TabID) (*Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.GetTab(tid)
}

// List returns all tabs ordered by position.
func (r *Registry) List() ([]Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.ListTabs()
}

// EnsureDefaultTab returns the first tab, creating the default tab
// lazily when none exist.
func (r *Registry) EnsureDefaultTab() (Tab, error) {
	r.mu.Lock()
	existing, err := r.records.ListTabs()
	r.mu.Unlock()
	if err != nil {
		return Tab{}, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}
	return r.Create(CreateOptions{Name: DefaultTabName})
}

// SetActiveTab records the currently active tab. Unknown tabs are
// rejected with false.
func (r *Registry) SetActiveTab(tid id.TabID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tab, err := r.records.GetTab(tid)
	if err != nil || tab == nil {
		return false, err
	}

	vs, err := r.records.GetViewState()
	if err != nil {
		return false, err
	}
	vs.ActiveTabID = &tab.ID
	return true, r.records.SetViewState(vs)
}

// FocusTerminal records the last-focused terminal within a tab.
func (r *Registry) FocusTerminal(tid id.TabID, terminal id.TerminalID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	vs, err := r.records.GetViewState()
	if err != nil {
		return err
	}
	if vs.Focused == nil {
		vs.Focused = make(map[id.TabID]id.TerminalID)
	}
	vs.Focused[tid] = terminal
	return r.records.SetViewState(vs)
}

// ViewState returns the singleton view state.
func (r *Registry) ViewState() (ViewState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records.GetViewState()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
