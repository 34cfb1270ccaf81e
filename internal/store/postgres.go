package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

// Postgres backs indexer deployments that serve many readers. Updates run
// under serializable isolation so concurrent transitions on the same account
// behave like the memory backend's single writer.
type Postgres struct {
	db *sql.DB
}

// NewPostgres connects with a lib/pq DSN and migrates the schema.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		addr BYTEA PRIMARY KEY,
		data BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	_, err := p.db.Exec(schema)
	return err
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Get(addr ledger.Address) ([]byte, error) {
	var data []byte
	err := t.tx.QueryRow(`SELECT data FROM accounts WHERE addr = $1`, addr[:]).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NewNotFoundError(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return data, nil
}

func (t *pgTx) Put(addr ledger.Address, data []byte) error {
	_, err := t.tx.Exec(`
		INSERT INTO accounts (addr, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (addr) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		addr[:], data)
	if err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

func (t *pgTx) Has(addr ledger.Address) (bool, error) {
	var one int
	err := t.tx.QueryRow(`SELECT 1 FROM accounts WHERE addr = $1`, addr[:]).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe account: %w", err)
	}
	return true, nil
}

func (p *Postgres) run(readOnly bool, fn func(Tx) error) error {
	tx, err := p.db.BeginTx(context.Background(), &sql.TxOptions{
		Isolation: sql.LevelSerializable,
		ReadOnly:  readOnly,
	})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// View runs fn in a read-only serializable transaction.
func (p *Postgres) View(fn func(Tx) error) error {
	return p.run(true, fn)
}

// Update runs fn in a serializable write transaction.
func (p *Postgres) Update(fn func(Tx) error) error {
	return p.run(false, fn)
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
