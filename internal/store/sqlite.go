package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

// SQLite is the embedded single-node backend. WAL mode, one writer; Update
// maps onto an IMMEDIATE transaction so transitions stay serialized.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and migrates) the account database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		addr BLOB PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Get(addr ledger.Address) ([]byte, error) {
	var data []byte
	err := t.tx.QueryRow(`SELECT data FROM accounts WHERE addr = ?`, addr[:]).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NewNotFoundError(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return data, nil
}

func (t *sqlTx) Put(addr ledger.Address, data []byte) error {
	_, err := t.tx.Exec(`
		INSERT INTO accounts (addr, data, updated_at) VALUES (?, ?, strftime('%s','now'))
		ON CONFLICT(addr) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		addr[:], data)
	if err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

func (t *sqlTx) Has(addr ledger.Address) (bool, error) {
	var one int
	err := t.tx.QueryRow(`SELECT 1 FROM accounts WHERE addr = ?`, addr[:]).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe account: %w", err)
	}
	return true, nil
}

func (s *SQLite) run(fn func(Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&sqlTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// View runs fn in a read transaction.
func (s *SQLite) View(fn func(Tx) error) error {
	return s.run(fn)
}

// Update runs fn in a write transaction; rollback on error.
func (s *SQLite) Update(fn func(Tx) error) error {
	return s.run(fn)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
