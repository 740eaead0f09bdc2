package term

import (
	"os/exec"
	"time"

	"github.com/termhub/termhub/internal/shared/id"
)

// Status is a terminal's lifecycle state.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusError   Status = "error"
)

// Info is the public representation of a terminal. It is both the
// wire shape sent to clients and the persisted row shape.
type Info struct {
	ID            id.TerminalID `json:"id"`
	Name          string        `json:"name"`
	Cwd           string        `json:"cwd"`
	Cols          int           `json:"cols"`
	Rows          int           `json:"rows"`
	Status        Status        `json:"status"`
	ExitCode      *int          `json:"exitCode,omitempty"`
	TabID         *id.TabID     `json:"tabId,omitempty"`
	PositionInTab int           `json:"positionInTab"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Utility is the narrow capability surface of the detachable session
// utility. The dtach client satisfies it; tests substitute fakes.
type Utility interface {
	IsAvailable() bool
	HasSession(sessionID string) bool
	SocketPath(sessionID string) string
	SpawnDetached(sessionID, cwd, shell string) error
	AttachCommand(sessionID string) *exec.Cmd
	KillSession(sessionID string) error
	KillClaudeInSession(sessionID string) bool
}

// Records is the persistence surface the manager needs for terminal
// rows. The SQLite store satisfies it.
type Records interface {
	InsertTerminal(info Info) error
	UpdateTerminal(info Info) error
	SetTerminalStatus(tid id.TerminalID, status Status, exitCode *int) error
	DeleteTerminal(tid id.TerminalID) error
	DeleteAllTerminals() error
	ListTerminals() ([]Info, error)
}
