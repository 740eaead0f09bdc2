package tabs

import (
	"time"

	"github.com/termhub/termhub/internal/shared/id"
)

// Tab is a first-class grouping of terminals with an explicit position.
// Positions are dense and zero-based across the full tab list.
type Tab struct {
	ID        id.TabID  `json:"id"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	Directory *string   `json:"directory,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ViewState is the singleton client view: the active tab and the
// last-focused terminal within each tab.
type ViewState struct {
	ActiveTabID *id.TabID                  `json:"activeTabId"`
	Focused     map[id.TabID]id.TerminalID `json:"focusedByTab"`
}

// Records is the persistence surface the registry needs. The SQLite
// store satisfies it. The compound operations (InsertTabAt, RemoveTab,
// ReorderTab) each run as one transaction so positions are never
// observed mid-shift.
type Records interface {
	InsertTabAt(t Tab) error
	UpdateTab(t Tab) error
	RemoveTab(tid id.TabID) error
	ReorderTab(tid id.TabID, oldPos, newPos int) error
	GetTab(tid id.TabID) (*Tab, error)
	ListTabs() ([]Tab, error)
	TabCount() (int, error)
	GetViewState() (ViewState, error)
	SetViewState(vs ViewState) error
}
