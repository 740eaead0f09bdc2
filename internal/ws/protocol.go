package ws

import (
	"encoding/json"

	"github.com/termhub/termhub/internal/shared/id"
	"github.com/termhub/termhub/internal/tabs"
	"github.com/termhub/termhub/internal/term"
)

// Message is the wire envelope: one message is one {type, payload}
// pair in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client→server message types.
const (
	MsgTerminalCreate      = "terminal:create"
	MsgTerminalDestroy     = "terminal:destroy"
	MsgTerminalInput       = "terminal:input"
	MsgTerminalResize      = "terminal:resize"
	MsgTerminalAttach      = "terminal:attach"
	MsgTerminalRename      = "terminal:rename"
	MsgTerminalAssignTab   = "terminal:assignTab"
	MsgTerminalClearBuffer = "terminal:clearBuffer"
	MsgTerminalFocus       = "terminal:focus"
	MsgTerminalKillAgent   = "terminal:killAgent"
	MsgTerminalsList       = "terminals:list"
	MsgTabCreate           = "tab:create"
	MsgTabUpdate           = "tab:update"
	MsgTabDelete           = "tab:delete"
	MsgTabReorder          = "tab:reorder"
	MsgTabsList            = "tabs:list"
	MsgViewGet             = "view:get"
	MsgViewSetActiveTab    = "view:setActiveTab"
	MsgPing                = "ping"
)

// Server→client message types.
const (
	MsgTerminalCreated     = "terminal:created"
	MsgTerminalOutput      = "terminal:output"
	MsgTerminalExit        = "terminal:exit"
	MsgTerminalAttached    = "terminal:attached"
	MsgTerminalError       = "terminal:error"
	MsgTerminalRenamed     = "terminal:renamed"
	MsgTerminalDestroyed   = "terminal:destroyed"
	MsgTerminalTabAssigned = "terminal:tabAssigned"
	MsgBufferCleared       = "terminal:bufferCleared"
	MsgTabCreated          = "tab:created"
	MsgTabUpdated          = "tab:updated"
	MsgTabDeleted          = "tab:deleted"
	MsgTabReordered        = "tab:reordered"
	MsgViewState           = "view:state"
	MsgPong                = "pong"
)

// Correlation carries the optional client-generated identifiers used
// for optimistic updates. The server echoes them unchanged; it
// performs no deduplication on them.
type Correlation struct {
	RequestID string `json:"requestId,omitempty"`
	TempID    string `json:"tempId,omitempty"`
}

// CreateTerminalPayload is terminal:create.
type CreateTerminalPayload struct {
	Name          string    `json:"name"`
	Cols          int       `json:"cols"`
	Rows          int       `json:"rows"`
	Cwd           string    `json:"cwd,omitempty"`
	TabID         *id.TabID `json:"tabId,omitempty"`
	PositionInTab int       `json:"positionInTab,omitempty"`
	Correlation
}

// DestroyTerminalPayload is terminal:destroy.
type DestroyTerminalPayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
	Force      bool          `json:"force,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// InputPayload is terminal:input. Data is base64-encoded bytes.
type InputPayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
	Data       string        `json:"data"`
}

// ResizePayload is terminal:resize.
type ResizePayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
	Cols       int           `json:"cols"`
	Rows       int           `json:"rows"`
}

// AttachPayload is terminal:attach.
type AttachPayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
}

// RenamePayload is terminal:rename.
type RenamePayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
	Name       string        `json:"name"`
}

// AssignTabPayload is terminal:assignTab. A null tabId detaches the
// terminal from all tabs.
type AssignTabPayload struct {
	TerminalID    id.TerminalID `json:"terminalId"`
	TabID         *id.TabID     `json:"tabId"`
	PositionInTab int           `json:"positionInTab,omitempty"`
}

// ClearBufferPayload is terminal:clearBuffer.
type ClearBufferPayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
}

// FocusPayload is terminal:focus; records the last-focused terminal
// within a tab.
type FocusPayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
	TabID      id.TabID      `json:"tabId"`
}

// KillAgentPayload is terminal:killAgent.
type KillAgentPayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
}

// SetActiveTabPayload is view:setActiveTab.
type SetActiveTabPayload struct {
	TabID id.TabID `json:"tabId"`
}

// CreateTabPayload is tab:create.
type CreateTabPayload struct {
	Name      string  `json:"name"`
	Position  *int    `json:"position,omitempty"`
	Directory *string `json:"directory,omitempty"`
	Correlation
}

// UpdateTabPayload is tab:update. Directory distinguishes absent from
// explicit null: absent leaves it unchanged, null clears it.
type UpdateTabPayload struct {
	TabID     id.TabID        `json:"tabId"`
	Name      *string         `json:"name,omitempty"`
	Directory json.RawMessage `json:"directory,omitempty"`
}

// DeleteTabPayload is tab:delete.
type DeleteTabPayload struct {
	TabID id.TabID `json:"tabId"`
}

// ReorderTabPayload is tab:reorder.
type ReorderTabPayload struct {
	TabID    id.TabID `json:"tabId"`
	Position int      `json:"position"`
}

// TerminalCreatedPayload is terminal:created. IsNew is false when the
// duplicate-cwd guard returned an existing terminal.
type TerminalCreatedPayload struct {
	Terminal term.Info `json:"terminal"`
	IsNew    bool      `json:"isNew"`
	Correlation
}

// OutputPayload is terminal:output. Data is base64-encoded bytes.
type OutputPayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
	Data       string        `json:"data"`
}

// ExitPayload is terminal:exit.
type ExitPayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
	ExitCode   int           `json:"exitCode"`
}

// AttachedPayload is terminal:attached. Buffer is the base64-encoded
// scrollback replay.
type AttachedPayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
	Buffer     string        `json:"buffer"`
}

// ErrorPayload is terminal:error.
type ErrorPayload struct {
	TerminalID *id.TerminalID `json:"terminalId,omitempty"`
	Error      string         `json:"error"`
	Correlation
}

// RenamedPayload is terminal:renamed.
type RenamedPayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
	Name       string        `json:"name"`
}

// DestroyedPayload is terminal:destroyed.
type DestroyedPayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
}

// TabAssignedPayload is terminal:tabAssigned.
type TabAssignedPayload struct {
	TerminalID    id.TerminalID `json:"terminalId"`
	TabID         *id.TabID     `json:"tabId"`
	PositionInTab int           `json:"positionInTab"`
}

// BufferClearedPayload is terminal:bufferCleared.
type BufferClearedPayload struct {
	TerminalID id.TerminalID `json:"terminalId"`
}

// TerminalsListPayload is terminals:list.
type TerminalsListPayload struct {
	Terminals []term.Info `json:"terminals"`
}

// TabPayload carries one tab for tab:created/updated/reordered.
type TabPayload struct {
	Tab tabs.Tab `json:"tab"`
	Correlation
}

// TabDeletedPayload is tab:deleted.
type TabDeletedPayload struct {
	TabID id.TabID `json:"tabId"`
}

// TabsListPayload is tabs:list.
type TabsListPayload struct {
	Tabs []tabs.Tab `json:"tabs"`
}

// ViewStatePayload is view:state.
type ViewStatePayload struct {
	View tabs.ViewState `json:"view"`
}
