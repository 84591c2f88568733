package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vfspanel/internal/registry/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRegistry stores keys and values in two SQLite tables. Subkeys are
// listed in creation order.
type SQLiteRegistry struct {
	db   *sql.DB
	path string
}

var _ Registry = (*SQLiteRegistry)(nil)

// NewSQLiteRegistry opens (creating if needed) the registry database at path
// and brings its schema up to date. path may be ":memory:".
func NewSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing registry schema: %w", err)
	}
	return &SQLiteRegistry{db: db, path: path}, nil
}

// NewSQLiteRegistryFromDB wraps an existing connection whose schema is
// already in place.
func NewSQLiteRegistryFromDB(db *sql.DB) *SQLiteRegistry {
	return &SQLiteRegistry{db: db}
}

// OpenConnection opens and configures a SQLite connection for the registry.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	return db, nil
}

// CheckMigrations verifies the schema version.
func (r *SQLiteRegistry) CheckMigrations() error {
	return migrations.CheckStatus(r.db)
}

func (r *SQLiteRegistry) CreateKey(key string) error {
	return r.withTx(func(tx *sql.Tx) error {
		return createKeyTx(tx, key)
	})
}

func (r *SQLiteRegistry) KeyExists(key string) (bool, error) {
	key = CleanKey(key)
	if key == "" {
		return true, nil
	}
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM registry_keys WHERE path = ?", key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking key %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *SQLiteRegistry) SubKeys(key string) ([]string, error) {
	key = CleanKey(key)
	ok, err := r.KeyExists(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", key, ErrKeyNotFound)
	}

	rows, err := r.db.Query("SELECT name FROM registry_keys WHERE parent = ? AND path != '' ORDER BY id", key)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", key, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning subkey of %s: %w", key, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing %s: %w", key, err)
	}
	return names, nil
}

func (r *SQLiteRegistry) DeleteKey(key string) error {
	key = CleanKey(key)
	if key == "" {
		return fmt.Errorf("refusing to delete the root key")
	}
	return r.withTx(func(tx *sql.Tx) error {
		// values go with their keys through ON DELETE CASCADE
		_, err := tx.Exec(
			"DELETE FROM registry_keys WHERE path = ? OR path LIKE ? ESCAPE '\\'",
			key, escapeLike(key)+"/%",
		)
		if err != nil {
			return fmt.Errorf("deleting key %s: %w", key, err)
		}
		return nil
	})
}

func (r *SQLiteRegistry) GetValue(key, name string) (Value, error) {
	key = CleanKey(key)
	var v Value
	var kind int
	err := r.db.QueryRow(
		"SELECT kind, data FROM registry_values WHERE key_path = ? AND name = ?",
		key, name,
	).Scan(&kind, &v.Data)
	if errors.Is(err, sql.ErrNoRows) {
		ok, kerr := r.KeyExists(key)
		if kerr != nil {
			return Value{}, kerr
		}
		if !ok {
			return Value{}, fmt.Errorf("reading %s: %w", key, ErrKeyNotFound)
		}
		return Value{}, fmt.Errorf("reading %s/%s: %w", key, name, ErrValueNotFound)
	}
	if err != nil {
		return Value{}, fmt.Errorf("reading %s/%s: %w", key, name, err)
	}
	v.Kind = Kind(kind)
	return v, nil
}

func (r *SQLiteRegistry) SetValue(key, name string, v Value) error {
	key = CleanKey(key)
	return r.withTx(func(tx *sql.Tx) error {
		if err := createKeyTx(tx, key); err != nil {
			return err
		}
		data := v.Data
		if data == nil {
			data = []byte{}
		}
		_, err := tx.Exec(
			`INSERT INTO registry_values (key_path, name, kind, data) VALUES (?, ?, ?, ?)
			 ON CONFLICT (key_path, name) DO UPDATE SET kind = excluded.kind, data = excluded.data`,
			key, name, int(v.Kind), data,
		)
		if err != nil {
			return fmt.Errorf("writing %s/%s: %w", key, name, err)
		}
		return nil
	})
}

func (r *SQLiteRegistry) DeleteValue(key, name string) error {
	_, err := r.db.Exec("DELETE FROM registry_values WHERE key_path = ? AND name = ?", CleanKey(key), name)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", key, name, err)
	}
	return nil
}

func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

func (r *SQLiteRegistry) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// createKeyTx inserts key and any missing parents. The root key "" is
// implicit and never stored, except when values are set on it.
func createKeyTx(tx *sql.Tx, key string) error {
	paths := parentKeys(key)
	if len(paths) == 0 {
		paths = []string{""}
	}
	parent := ""
	for _, p := range paths {
		name := p
		if parent != "" {
			name = p[len(parent)+1:]
		}
		_, err := tx.Exec(
			"INSERT OR IGNORE INTO registry_keys (path, parent, name) VALUES (?, ?, ?)",
			p, parent, name,
		)
		if err != nil {
			return fmt.Errorf("creating key %s: %w", p, err)
		}
		parent = p
	}
	return nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
