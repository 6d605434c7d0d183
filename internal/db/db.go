package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Session states.
const (
	StateBusy = "busy"
	StateFree = "free"
)

// ErrDuplicateActive is returned by CreateSession when the user already has a
// busy session. It maps the partial unique index on (user_token, state='busy')
// so check-and-create is a single conditional write, never a read-then-write pair.
var ErrDuplicateActive = errors.New("user already has an active download session")

// DB wraps a sql.DB connection to the SQLite database.
type DB struct {
	conn *sql.DB
}

// DownloadSession is one simulated transfer attempt. Records are append-only
// history: a session that reaches the free state is never reused.
type DownloadSession struct {
	ID           string
	UserToken    string
	ObjectID     string
	ObjectName   string // snapshotted at creation; later catalog edits don't affect it
	State        string // busy, free
	TotalChunks  int
	CurrentChunk int
	Progress     int // 0-100
	StartedAt    string
	UpdatedAt    string
	CompletedAt  *string
}

// Open creates a new DB connection and runs all pending migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &DB{conn: conn}, nil
}

func migrate(conn *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for use by other packages if needed.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// --- Session Methods ---

const sessionColumns = `id, user_token, object_id, object_name, state, total_chunks, current_chunk, progress, started_at, updated_at, completed_at`

func scanSession(scanner interface{ Scan(...any) error }, s *DownloadSession) error {
	return scanner.Scan(&s.ID, &s.UserToken, &s.ObjectID, &s.ObjectName, &s.State, &s.TotalChunks, &s.CurrentChunk, &s.Progress, &s.StartedAt, &s.UpdatedAt, &s.CompletedAt)
}

// CreateSession inserts a new session record. When the user already has a busy
// session the partial unique index rejects the insert and ErrDuplicateActive
// is returned; the row is never half-created.
func (d *DB) CreateSession(s *DownloadSession) error {
	_, err := d.conn.Exec(
		`INSERT INTO download_sessions (id, user_token, object_id, object_name, state, total_chunks, current_chunk, progress, started_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserToken, s.ObjectID, s.ObjectName, s.State, s.TotalChunks, s.CurrentChunk, s.Progress, s.StartedAt, s.UpdatedAt, s.CompletedAt,
	)
	if err != nil {
		var serr *sqlite.Error
		if errors.As(err, &serr) && serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return ErrDuplicateActive
		}
		return fmt.Errorf("insert download session: %w", err)
	}
	return nil
}

// GetSession retrieves a single session by ID. Returns nil when absent.
func (d *DB) GetSession(id string) (*DownloadSession, error) {
	s := &DownloadSession{}
	row := d.conn.QueryRow(`SELECT `+sessionColumns+` FROM download_sessions WHERE id = ?`, id)
	if err := scanSession(row, s); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get download session %s: %w", id, err)
	}
	return s, nil
}

// ActiveSession returns the busy session for a user, or nil when the user has none.
func (d *DB) ActiveSession(userToken string) (*DownloadSession, error) {
	s := &DownloadSession{}
	row := d.conn.QueryRow(
		`SELECT `+sessionColumns+` FROM download_sessions WHERE user_token = ? AND state = ?`,
		userToken, StateBusy,
	)
	if err := scanSession(row, s); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("active session for %s: %w", userToken, err)
	}
	return s, nil
}

// AdvanceProgress persists one tick of progress. The update only applies while
// the record is still busy; it reports false when another path already
// finalized the session, in which case the caller must stop mutating it.
func (d *DB) AdvanceProgress(id string, chunk, progress int, updatedAt string) (bool, error) {
	res, err := d.conn.Exec(
		`UPDATE download_sessions SET current_chunk = ?, progress = ?, updated_at = ?
		 WHERE id = ? AND state = ?`,
		chunk, progress, updatedAt, id, StateBusy,
	)
	if err != nil {
		return false, fmt.Errorf("advance progress %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance progress %s: %w", id, err)
	}
	return n > 0, nil
}

// CompleteSession transitions a busy session to free with progress forced to
// 100 and current_chunk pinned to total_chunks. Reports false when the session
// was already finalized.
func (d *DB) CompleteSession(id, completedAt string) (bool, error) {
	res, err := d.conn.Exec(
		`UPDATE download_sessions
		 SET state = ?, progress = 100, current_chunk = total_chunks, updated_at = ?, completed_at = ?
		 WHERE id = ? AND state = ?`,
		StateFree, completedAt, completedAt, id, StateBusy,
	)
	if err != nil {
		return false, fmt.Errorf("complete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete session %s: %w", id, err)
	}
	return n > 0, nil
}

// ReleaseSession transitions a busy session to free without touching its
// progress (cancel and disconnect paths). Reports false when the session was
// already finalized.
func (d *DB) ReleaseSession(id, completedAt string) (bool, error) {
	res, err := d.conn.Exec(
		`UPDATE download_sessions SET state = ?, updated_at = ?, completed_at = ?
		 WHERE id = ? AND state = ?`,
		StateFree, completedAt, completedAt, id, StateBusy,
	)
	if err != nil {
		return false, fmt.Errorf("release session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release session %s: %w", id, err)
	}
	return n > 0, nil
}

// ReapStale frees busy sessions for one user whose start or last update is
// older than the cutoff. Re-reaping an already-free record is a no-op, so the
// call is safe to repeat.
func (d *DB) ReapStale(userToken, cutoff, completedAt string) (int64, error) {
	res, err := d.conn.Exec(
		`UPDATE download_sessions SET state = ?, updated_at = ?, completed_at = ?
		 WHERE user_token = ? AND state = ? AND (started_at < ? OR updated_at < ?)`,
		StateFree, completedAt, completedAt, userToken, StateBusy, cutoff, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reap stale for %s: %w", userToken, err)
	}
	return res.RowsAffected()
}

// ReapAllStale runs the same staleness predicate across all users. Used by the
// scheduled maintenance sweep.
func (d *DB) ReapAllStale(cutoff, completedAt string) (int64, error) {
	res, err := d.conn.Exec(
		`UPDATE download_sessions SET state = ?, updated_at = ?, completed_at = ?
		 WHERE state = ? AND (started_at < ? OR updated_at < ?)`,
		StateFree, completedAt, completedAt, StateBusy, cutoff, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reap stale: %w", err)
	}
	return res.RowsAffected()
}

// ListActiveSessions returns all busy sessions, most recently started first.
func (d *DB) ListActiveSessions() ([]DownloadSession, error) {
	return d.querySessions(
		`SELECT `+sessionColumns+` FROM download_sessions WHERE state = ? ORDER BY started_at DESC`,
		StateBusy,
	)
}

// ListSessions returns every session ever recorded, most recently started
// first. Completed and cancelled sessions are permanent history for the
// monitoring surface.
func (d *DB) ListSessions() ([]DownloadSession, error) {
	return d.querySessions(`SELECT ` + sessionColumns + ` FROM download_sessions ORDER BY started_at DESC`)
}

func (d *DB) querySessions(query string, args ...any) ([]DownloadSession, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var sessions []DownloadSession
	for rows.Next() {
		var s DownloadSession
		if err := scanSession(rows, &s); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
