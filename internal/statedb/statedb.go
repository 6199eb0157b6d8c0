package statedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps the SQLite database holding session records, tombstones,
// shell entries and activity touches. Thread-safe for concurrent use from
// multiple goroutines. The daemon is the exclusive writer; WAL mode keeps
// readers unblocked while it writes.
type StateDB struct {
	db *sql.DB
}

// SessionRow mirrors one row of the sessions table.
type SessionRow struct {
	SessionID      string
	ProjectPath    string
	PID            int
	State          string
	StateChangedAt time.Time
	LastEvent      string
	LastActivityAt time.Time
	ToolsInFlight  int
	ReadyReason    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TombstoneRow mirrors one row of the tombstones table.
type TombstoneRow struct {
	SessionID string
	EndedAt   time.Time
	Reason    string
}

// ShellRow mirrors one row of the shells table.
type ShellRow struct {
	PID                int
	Cwd                string
	TTY                string
	ParentApp          string
	MultiplexerSession string
	UpdatedAt          time.Time
}

// ActivityRow mirrors one row of the activity table.
type ActivityRow struct {
	SessionID   string
	ProjectPath string
	FilePath    string
	Tool        string
	Timestamp   time.Time
}

// Open creates or opens the database at dbPath with WAL mode and a busy
// timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	// Pragmas go in the DSN so the driver applies them to every pooled
	// connection; a plain Exec would only configure whichever connection
	// happened to run it, and concurrent writers on fresh connections
	// would fail SQLITE_BUSY with no timeout.
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Migrate creates tables if they don't exist and runs any pending migrations.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id       TEXT PRIMARY KEY,
			project_path     TEXT NOT NULL,
			pid              INTEGER NOT NULL,
			state            TEXT NOT NULL,
			state_changed_at INTEGER NOT NULL,
			last_event       TEXT NOT NULL DEFAULT '',
			last_activity_at INTEGER NOT NULL DEFAULT 0,
			tools_in_flight  INTEGER NOT NULL DEFAULT 0,
			ready_reason     TEXT NOT NULL DEFAULT '',
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create sessions: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS tombstones (
			session_id TEXT PRIMARY KEY,
			ended_at   INTEGER NOT NULL,
			reason     TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return fmt.Errorf("statedb: create tombstones: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS shells (
			pid                 INTEGER PRIMARY KEY,
			cwd                 TEXT NOT NULL,
			tty                 TEXT NOT NULL,
			parent_app          TEXT NOT NULL DEFAULT '',
			multiplexer_session TEXT NOT NULL DEFAULT '',
			updated_at          INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create shells: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS activity (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id   TEXT NOT NULL,
			project_path TEXT NOT NULL,
			file_path    TEXT NOT NULL,
			tool         TEXT NOT NULL,
			ts           INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create activity: %w", err)
	}
	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_activity_session ON activity(session_id, ts)
	`); err != nil {
		return fmt.Errorf("statedb: index activity: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Sessions ---

// UpsertSession inserts or replaces a single session row.
func (s *StateDB) UpsertSession(ctx context.Context, row *SessionRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (
			session_id, project_path, pid, state, state_changed_at,
			last_event, last_activity_at, tools_in_flight, ready_reason,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.SessionID, row.ProjectPath, row.PID, row.State, row.StateChangedAt.UnixNano(),
		row.LastEvent, row.LastActivityAt.UnixNano(), row.ToolsInFlight, row.ReadyReason,
		row.CreatedAt.UnixNano(), row.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("statedb: upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes a session row by id.
func (s *StateDB) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("statedb: delete session: %w", err)
	}
	return nil
}

// LoadSessions returns all session rows.
func (s *StateDB) LoadSessions() ([]*SessionRow, error) {
	rows, err := s.db.Query(`
		SELECT session_id, project_path, pid, state, state_changed_at,
			last_event, last_activity_at, tools_in_flight, ready_reason,
			created_at, updated_at
		FROM sessions
	`)
	if err != nil {
		return nil, fmt.Errorf("statedb: load sessions: %w", err)
	}
	defer rows.Close()

	var result []*SessionRow
	for rows.Next() {
		r := &SessionRow{}
		var changed, activity, created, updated int64
		if err := rows.Scan(
			&r.SessionID, &r.ProjectPath, &r.PID, &r.State, &changed,
			&r.LastEvent, &activity, &r.ToolsInFlight, &r.ReadyReason,
			&created, &updated,
		); err != nil {
			return nil, fmt.Errorf("statedb: scan session: %w", err)
		}
		r.StateChangedAt = time.Unix(0, changed)
		r.LastActivityAt = time.Unix(0, activity)
		r.CreatedAt = time.Unix(0, created)
		r.UpdatedAt = time.Unix(0, updated)
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- Tombstones ---

// InsertTombstone records a retired session.
func (s *StateDB) InsertTombstone(ctx context.Context, row *TombstoneRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tombstones (session_id, ended_at, reason)
		VALUES (?, ?, ?)
	`, row.SessionID, row.EndedAt.UnixNano(), row.Reason)
	if err != nil {
		return fmt.Errorf("statedb: insert tombstone: %w", err)
	}
	return nil
}

// DeleteTombstone removes a tombstone by session id.
func (s *StateDB) DeleteTombstone(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tombstones WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("statedb: delete tombstone: %w", err)
	}
	return nil
}

// LoadTombstones returns all tombstone rows.
func (s *StateDB) LoadTombstones() ([]*TombstoneRow, error) {
	rows, err := s.db.Query("SELECT session_id, ended_at, reason FROM tombstones")
	if err != nil {
		return nil, fmt.Errorf("statedb: load tombstones: %w", err)
	}
	defer rows.Close()

	var result []*TombstoneRow
	for rows.Next() {
		r := &TombstoneRow{}
		var ended int64
		if err := rows.Scan(&r.SessionID, &ended, &r.Reason); err != nil {
			return nil, fmt.Errorf("statedb: scan tombstone: %w", err)
		}
		r.EndedAt = time.Unix(0, ended)
		result = append(result, r)
	}
	return result, rows.Err()
}

// SweepTombstones removes tombstones older than cutoff and returns how many
// were deleted.
func (s *StateDB) SweepTombstones(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tombstones WHERE ended_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("statedb: sweep tombstones: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- Shells ---

// UpsertShell inserts or replaces the shell entry for one pid. Later reports
// for the same pid supersede, never append.
func (s *StateDB) UpsertShell(ctx context.Context, row *ShellRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO shells (pid, cwd, tty, parent_app, multiplexer_session, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row.PID, row.Cwd, row.TTY, row.ParentApp, row.MultiplexerSession, row.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("statedb: upsert shell: %w", err)
	}
	return nil
}

// DeleteShell removes the shell entry for one pid.
func (s *StateDB) DeleteShell(ctx context.Context, pid int) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM shells WHERE pid = ?", pid); err != nil {
		return fmt.Errorf("statedb: delete shell: %w", err)
	}
	return nil
}

// LoadShells returns all shell rows.
func (s *StateDB) LoadShells() ([]*ShellRow, error) {
	rows, err := s.db.Query("SELECT pid, cwd, tty, parent_app, multiplexer_session, updated_at FROM shells")
	if err != nil {
		return nil, fmt.Errorf("statedb: load shells: %w", err)
	}
	defer rows.Close()

	var result []*ShellRow
	for rows.Next() {
		r := &ShellRow{}
		var updated int64
		if err := rows.Scan(&r.PID, &r.Cwd, &r.TTY, &r.ParentApp, &r.MultiplexerSession, &updated); err != nil {
			return nil, fmt.Errorf("statedb: scan shell: %w", err)
		}
		r.UpdatedAt = time.Unix(0, updated)
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- Activity ---

// InsertActivity appends one file-touch row.
func (s *StateDB) InsertActivity(ctx context.Context, row *ActivityRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity (session_id, project_path, file_path, tool, ts)
		VALUES (?, ?, ?, ?, ?)
	`, row.SessionID, row.ProjectPath, row.FilePath, row.Tool, row.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("statedb: insert activity: %w", err)
	}
	return nil
}

// TrimActivity keeps only the newest keep rows for one session.
func (s *StateDB) TrimActivity(ctx context.Context, sessionID string, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM activity WHERE session_id = ? AND id NOT IN (
			SELECT id FROM activity WHERE session_id = ? ORDER BY ts DESC LIMIT ?
		)
	`, sessionID, sessionID, keep)
	if err != nil {
		return fmt.Errorf("statedb: trim activity: %w", err)
	}
	return nil
}

// LoadActivity returns all activity rows, newest first.
func (s *StateDB) LoadActivity() ([]*ActivityRow, error) {
	rows, err := s.db.Query("SELECT session_id, project_path, file_path, tool, ts FROM activity ORDER BY ts DESC")
	if err != nil {
		return nil, fmt.Errorf("statedb: load activity: %w", err)
	}
	defer rows.Close()

	var result []*ActivityRow
	for rows.Next() {
		r := &ActivityRow{}
		var ts int64
		if err := rows.Scan(&r.SessionID, &r.ProjectPath, &r.FilePath, &r.Tool, &ts); err != nil {
			return nil, fmt.Errorf("statedb: scan activity: %w", err)
		}
		r.Timestamp = time.Unix(0, ts)
		result = append(result, r)
	}
	return result, rows.Err()
}

// SweepActivity removes activity older than cutoff and returns how many rows
// were deleted.
func (s *StateDB) SweepActivity(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM activity WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("statedb: sweep activity: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)", key, value)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Touch updates a metadata timestamp that clients can poll to detect changes.
func (s *StateDB) Touch() error {
	return s.SetMeta("last_modified", fmt.Sprintf("%d", time.Now().UnixNano()))
}

// LastModified returns the last_modified timestamp from metadata.
func (s *StateDB) LastModified() (int64, error) {
	val, err := s.GetMeta("last_modified")
	if err != nil || val == "" {
		return 0, err
	}
	var ts int64
	_, err = fmt.Sscanf(val, "%d", &ts)
	return ts, err
}
