package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/termhub/termhub/internal/shared/id"
	"github.com/termhub/termhub/internal/tabs"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// InsertTabAt inserts a tab at its position, shifting tabs at or above
// that position up by one. Runs as one transaction so positions stay a
// dense permutation under observation.
func (s *Store) InsertTabAt(t tabs.Tab) (err error) {
	conn, err := s.take()
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin insert tab: %w", err)
	}
	defer endFn(&err)

	if err = sqlitex.Execute(conn,
		`UPDATE tabs SET position = position + 1 WHERE position >= ?`,
		&sqlitex.ExecOptions{Args: []any{t.Position}}); err != nil {
		return err
	}

	return sqlitex.Execute(conn, `
		INSERT INTO tabs (id, name, position, directory, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				t.ID.String(),
				t.Name,
				t.Position,
				nullableString(t.Directory),
				t.CreatedAt.UnixMilli(),
				t.UpdatedAt.UnixMilli(),
			},
		})
}

// UpdateTab rewrites a tab's name and directory.
func (s *Store) UpdateTab(t tabs.Tab) error {
	conn, err := s.take()
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		UPDATE tabs SET name = ?, directory = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				t.Name,
				nullableString(t.Directory),
				t.UpdatedAt.UnixMilli(),
				t.ID.String(),
			},
		})
}

// RemoveTab deletes a tab, shifts higher positions down by one, and
// clears tab references held by terminal rows, all in one transaction.
func (s *Store) RemoveTab(tid id.TabID) (err error) {
	conn, err := s.take()
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin remove tab: %w", err)
	}
	defer endFn(&err)

	position := -1
	if err = sqlitex.Execute(conn, `SELECT position FROM tabs WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{tid.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				position = stmt.ColumnInt(0)
				return nil
			},
		}); err != nil {
		return err
	}
	if position < 0 {
		return nil
	}

	if err = sqlitex.Execute(conn, `DELETE FROM tabs WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{tid.String()}}); err != nil {
		return err
	}
	if err = sqlitex.Execute(conn,
		`UPDATE tabs SET position = position - 1 WHERE position > ?`,
		&sqlitex.ExecOptions{Args: []any{position}}); err != nil {
		return err
	}
	return sqlitex.Execute(conn, `
		UPDATE terminals SET tab_id = NULL, position_in_tab = 0, updated_at = ?
		WHERE tab_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{time.Now().UTC().UnixMilli(), tid.String()},
		})
}

// ReorderTab moves a tab from oldPos to newPos, shifting the closed
// interval between them by one in the opposite direction. One
// transaction.
func (s *Store) ReorderTab(tid id.TabID, oldPos, newPos int) (err error) {
	conn, err := s.take()
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin reorder tab: %w", err)
	}
	defer endFn(&err)

	if newPos > oldPos {
		err = sqlitex.Execute(conn,
			`UPDATE tabs SET position = position - 1 WHERE position > ? AND position <= ?`,
			&sqlitex.ExecOptions{Args: []any{oldPos, newPos}})
	} else {
		err = sqlitex.Execute(conn,
			`UPDATE tabs SET position = position + 1 WHERE position >= ? AND position < ?`,
			&sqlitex.ExecOptions{Args: []any{newPos, oldPos}})
	}
	if err != nil {
		return err
	}

	return sqlitex.Execute(conn,
		`UPDATE tabs SET position = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{newPos, time.Now().UTC().UnixMilli(), tid.String()},
		})
}

// GetTab returns a tab or nil when unknown.
func (s *Store) GetTab(tid id.TabID) (*tabs.Tab, error) {
	conn, err := s.take()
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out *tabs.Tab
	err = sqlitex.Execute(conn, `
		SELECT id, name, position, directory, created_at, updated_at
		FROM tabs WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{tid.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				t := scanTab(stmt)
				out = &t
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get tab: %w", err)
	}
	return out, nil
}

// ListTabs returns all tabs ordered by position.
func (s *Store) ListTabs() ([]tabs.Tab, error) {
	conn, err := s.take()
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []tabs.Tab
	err = sqlitex.Execute(conn, `
		SELECT id, name, position, directory, created_at, updated_at
		FROM tabs ORDER BY position`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, scanTab(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list tabs: %w", err)
	}
	return out, nil
}

// TabCount returns the number of tabs.
func (s *Store) TabCount() (int, error) {
	conn, err := s.take()
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	count := 0
	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM tabs`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: count tabs: %w", err)
	}
	return count, nil
}

func scanTab(stmt *sqlite.Stmt) tabs.Tab {
	t := tabs.Tab{
		ID:        id.TabID(stmt.ColumnText(0)),
		Name:      stmt.ColumnText(1),
		Position:  stmt.ColumnInt(2),
		CreatedAt: time.UnixMilli(stmt.ColumnInt64(4)).UTC(),
		UpdatedAt: time.UnixMilli(stmt.ColumnInt64(5)).UTC(),
	}
	if !stmt.ColumnIsNull(3) {
		dir := stmt.ColumnText(3)
		t.Directory = &dir
	}
	return t
}

// GetViewState reads the singleton view-state row.
func (s *Store) GetViewState() (tabs.ViewState, error) {
	conn, err := s.take()
	if err != nil {
		return tabs.ViewState{}, err
	}
	defer s.pool.Put(conn)

	vs := tabs.ViewState{Focused: make(map[id.TabID]id.TerminalID)}
	err = sqlitex.Execute(conn,
		`SELECT active_tab_id, focused_json FROM view_state WHERE id = 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if !stmt.ColumnIsNull(0) {
					tab := id.TabID(stmt.ColumnText(0))
					vs.ActiveTabID = &tab
				}
				raw := stmt.ColumnText(1)
				if raw == "" {
					return nil
				}
				return json.Unmarshal([]byte(raw), &vs.Focused)
			},
		})
	if err != nil {
		return tabs.ViewState{}, fmt.Errorf("store: get view state: %w", err)
	}
	return vs, nil
}

// SetViewState rewrites the singleton view-state row.
func (s *Store) SetViewState(vs tabs.ViewState) error {
	conn, err := s.take()
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	focused, err := json.Marshal(vs.Focused)
	if err != nil {
		return fmt.Errorf("store: encode view state: %w", err)
	}

	return sqlitex.Execute(conn, `
		UPDATE view_state SET active_tab_id = ?, focused_json = ? WHERE id = 1`,
		&sqlitex.ExecOptions{
			Args: []any{nullableTabID(vs.ActiveTabID), string(focused)},
		})
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
