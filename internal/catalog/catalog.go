// Package catalog manages the records of downloadable objects and exposes the
// read-only lookup contract the download core consumes.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Object is one downloadable catalog entry. SizeMB is the declared size used
// to derive the chunk count of a simulated transfer.
type Object struct {
	ID        string
	Name      string
	SizeMB    float64
	Logo      string // base64 encoded image or URL
	CreatedAt string
	UpdatedAt string
}

// Lookup is the contract the download session manager consumes. GetObject
// returns nil (not an error) for an unknown id.
type Lookup interface {
	GetObject(ctx context.Context, id string) (*Object, error)
}

// Store is the sqlite-backed catalog.
type Store struct {
	conn *sql.DB
}

// NewStore wraps an open database connection.
func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

const objectColumns = `id, name, size_mb, logo, created_at, updated_at`

func scanObject(scanner interface{ Scan(...any) error }, o *Object) error {
	return scanner.Scan(&o.ID, &o.Name, &o.SizeMB, &o.Logo, &o.CreatedAt, &o.UpdatedAt)
}

// Insert stores a new object, assigning its id and timestamps.
func (s *Store) Insert(ctx context.Context, o *Object) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC().Format(time.RFC3339)
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO objects (id, name, size_mb, logo, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.Name, o.SizeMB, o.Logo, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert object: %w", err)
	}
	return nil
}

// GetObject retrieves a single object by id. Returns nil when absent.
func (s *Store) GetObject(ctx context.Context, id string) (*Object, error) {
	o := &Object{}
	row := s.conn.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM objects WHERE id = ?`, id)
	if err := scanObject(row, o); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get object %s: %w", id, err)
	}
	return o, nil
}

// List returns all objects, newest first.
func (s *Store) List(ctx context.Context) ([]Object, error) {
	return s.queryObjects(ctx, `SELECT `+objectColumns+` FROM objects ORDER BY created_at DESC`)
}

// Recent returns the newest objects up to limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Object, error) {
	return s.queryObjects(ctx,
		`SELECT `+objectColumns+` FROM objects ORDER BY created_at DESC LIMIT ?`, limit)
}

// Search returns objects whose name contains the query, case-insensitively,
// newest first.
func (s *Store) Search(ctx context.Context, query string) ([]Object, error) {
	return s.queryObjects(ctx,
		`SELECT `+objectColumns+` FROM objects WHERE name LIKE ? COLLATE NOCASE ORDER BY created_at DESC`,
		"%"+query+"%",
	)
}

// Update applies the non-nil fields to an object. Returns the updated object,
// or nil when the id is unknown.
func (s *Store) Update(ctx context.Context, id string, name *string, sizeMB *float64, logo *string) (*Object, error) {
	o, err := s.GetObject(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, nil
	}

	if name != nil {
		o.Name = *name
	}
	if sizeMB != nil {
		o.SizeMB = *sizeMB
	}
	if logo != nil {
		o.Logo = *logo
	}
	o.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	_, err = s.conn.ExecContext(ctx,
		`UPDATE objects SET name = ?, size_mb = ?, logo = ?, updated_at = ? WHERE id = ?`,
		o.Name, o.SizeMB, o.Logo, o.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update object %s: %w", id, err)
	}
	return o, nil
}

// Delete removes an object. Reports false when the id is unknown.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete object %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete object %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) queryObjects(ctx context.Context, query string, args ...any) ([]Object, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var objects []Object
	for rows.Next() {
		var o Object
		if err := scanObject(rows, &o); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		objects = append(objects, o)
	}
	return objects, rows.Err()
}
