package store

import (
	"fmt"
	"time"

	"github.com/termhub/termhub/internal/shared/id"
	"github.com/termhub/termhub/internal/term"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// InsertTerminal writes a new terminal row. Called before the
// underlying process starts, so a crash mid-create leaves a
// discoverable record.
func (s *Store) InsertTerminal(info term.Info) error {
	conn, err := s.take()
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	now := time.Now().UTC().UnixMilli()
	return sqlitex.Execute(conn, `
		INSERT INTO terminals
			(id, name, cwd, cols, rows, status, exit_code, tab_id,
			 position_in_tab, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				info.ID.String(),
				info.Name,
				info.Cwd,
				info.Cols,
				info.Rows,
				string(info.Status),
				nullableInt(info.ExitCode),
				nullableTabID(info.TabID),
				info.PositionInTab,
				info.CreatedAt.UnixMilli(),
				now,
			},
		})
}

// UpdateTerminal rewrites a terminal's mutable attributes.
func (s *Store) UpdateTerminal(info term.Info) error {
	conn, err := s.take()
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		UPDATE terminals
		SET name = ?, cwd = ?, cols = ?, rows = ?, status = ?,
		    exit_code = ?, tab_id = ?, position_in_tab = ?, updated_at = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				info.Name,
				info.Cwd,
				info.Cols,
				info.Rows,
				string(info.Status),
				nullableInt(info.ExitCode),
				nullableTabID(info.TabID),
				info.PositionInTab,
				time.Now().UTC().UnixMilli(),
				info.ID.String(),
			},
		})
}

// SetTerminalStatus updates only lifecycle state. exitCode may be nil
// (status demotion without a known code).
func (s *Store) SetTerminalStatus(tid id.TerminalID, status term.Status, exitCode *int) error {
	conn, err := s.take()
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		UPDATE terminals SET status = ?, exit_code = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				string(status),
				nullableInt(exitCode),
				time.Now().UTC().UnixMilli(),
				tid.String(),
			},
		})
}

// DeleteTerminal removes a terminal row.
func (s *Store) DeleteTerminal(tid id.TerminalID) error {
	conn, err := s.take()
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `DELETE FROM terminals WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{tid.String()}})
}

// DeleteAllTerminals clears the terminal table. Used by the controlled
// full teardown.
func (s *Store) DeleteAllTerminals() error {
	conn, err := s.take()
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `DELETE FROM terminals`, nil)
}

// ListTerminals returns every persisted terminal, oldest first.
func (s *Store) ListTerminals() ([]term.Info, error) {
	conn, err := s.take()
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []term.Info
	err = sqlitex.Execute(conn, `
		SELECT id, name, cwd, cols, rows, status, exit_code, tab_id,
		       position_in_tab, created_at
		FROM terminals ORDER BY created_at, id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				info := term.Info{
					ID:            id.TerminalID(stmt.ColumnText(0)),
					Name:          stmt.ColumnText(1),
					Cwd:           stmt.ColumnText(2),
					Cols:          stmt.ColumnInt(3),
					Rows:          stmt.ColumnInt(4),
					Status:        term.Status(stmt.ColumnText(5)),
					PositionInTab: stmt.ColumnInt(8),
					CreatedAt:     time.UnixMilli(stmt.ColumnInt64(9)).UTC(),
				}
				if !stmt.ColumnIsNull(6) {
					code := stmt.ColumnInt(6)
					info.ExitCode = &code
				}
				if !stmt.ColumnIsNull(7) {
					tab := id.TabID(stmt.ColumnText(7))
					info.TabID = &tab
				}
				out = append(out, info)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list terminals: %w", err)
	}
	return out, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTabID(v *id.TabID) any {
	if v == nil {
		return nil
	}
	return v.String()
}
