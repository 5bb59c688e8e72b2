//go:build !(js && wasm)

package preset

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/MeKo-Tech/colordeconv/internal/stain"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store is a Registry backed by a SQLite database, for site-specific vectors
// measured in the lab that should outlive a single config file.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenStore opens or creates a stain catalog database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS stains (
			name TEXT PRIMARY KEY,
			mod_x0 REAL NOT NULL, mod_y0 REAL NOT NULL, mod_z0 REAL NOT NULL,
			mod_x1 REAL NOT NULL, mod_y1 REAL NOT NULL, mod_z1 REAL NOT NULL,
			mod_x2 REAL NOT NULL, mod_y2 REAL NOT NULL, mod_z2 REAL NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Put inserts or replaces a vector set.
func (s *Store) Put(name string, set stain.VectorSet) error {
	if name == "" {
		return fmt.Errorf("%w: empty preset name", stain.ErrInvalidStainSpec)
	}
	if err := set.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT OR REPLACE INTO stains
		(name, mod_x0, mod_y0, mod_z0, mod_x1, mod_y1, mod_z1, mod_x2, mod_y2, mod_z2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		name,
		set[0][0], set[0][1], set[0][2],
		set[1][0], set[1][1], set[1][2],
		set[2][0], set[2][1], set[2][2],
	)
	if err != nil {
		return fmt.Errorf("failed to store preset %q: %w", name, err)
	}
	return nil
}

// Import stores every entry of m in a single transaction.
func (s *Store) Import(m Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO stains
		(name, mod_x0, mod_y0, mod_z0, mod_x1, mod_y1, mod_z1, mod_x2, mod_y2, mod_z2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, name := range m.Names() {
		set := m[name]
		if err := set.Validate(); err != nil {
			return fmt.Errorf("%q: %w", name, err)
		}
		if _, err := stmt.Exec(name,
			set[0][0], set[0][1], set[0][2],
			set[1][0], set[1][1], set[1][2],
			set[2][0], set[2][1], set[2][2],
		); err != nil {
			return fmt.Errorf("failed to store preset %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete removes a preset. Deleting a missing name is not an error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM stains WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete preset %q: %w", name, err)
	}
	return nil
}

// Lookup implements Registry.
func (s *Store) Lookup(name string) (stain.VectorSet, error) {
	var set stain.VectorSet
	err := s.db.QueryRow(`SELECT mod_x0, mod_y0, mod_z0, mod_x1, mod_y1, mod_z1, mod_x2, mod_y2, mod_z2
		FROM stains WHERE name = ?`, name).Scan(
		&set[0][0], &set[0][1], &set[0][2],
		&set[1][0], &set[1][1], &set[1][2],
		&set[2][0], &set[2][1], &set[2][2],
	)
	if errors.Is(err, sql.ErrNoRows) {
		return stain.VectorSet{}, unknown(name)
	}
	if err != nil {
		return stain.VectorSet{}, fmt.Errorf("failed to read preset %q: %w", name, err)
	}
	return set, nil
}

// Names implements Registry. Query failures yield an empty list.
func (s *Store) Names() []string {
	rows, err := s.db.Query("SELECT name FROM stains ORDER BY name")
	if err != nil {
		return nil
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return names
		}
		names = append(names, n)
	}
	return names
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
