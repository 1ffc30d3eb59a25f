package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/jmerrifield20/chainoracle/internal/oracle/model"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteSlotStore persists slots in a single SQLite file. SQLite allows one
// writer, so the pool is capped at one connection and Update runs inside a
// write transaction.
type SQLiteSlotStore struct {
	db *sql.DB
}

// OpenSQLiteSlotStore opens (or creates) the database at path and applies
// the schema. Safe to call on an existing database.
func OpenSQLiteSlotStore(path string) (*SQLiteSlotStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteSlotStore{db: db}, nil
}

// Close closes the database.
func (r *SQLiteSlotStore) Close() error {
	return r.db.Close()
}

// Create inserts a new slot.
func (r *SQLiteSlotStore) Create(ctx context.Context, slot *model.Slot) error {
	now := time.Now().UTC()
	slot.CreatedAt = now
	slot.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oracle_slots (`+slotColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		slot.Key[:], slot.Owner[:], int64(slot.Balance), slot.Data,
		now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return ErrSlotExists
		}
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

// Get returns the slot at k.
func (r *SQLiteSlotStore) Get(ctx context.Context, k key.Key32) (*model.Slot, error) {
	slot, err := scanSQLiteSlot(r.db.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM oracle_slots WHERE key = ?`, k[:],
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

// Update runs fn inside a transaction and writes the slot back on success.
func (r *SQLiteSlotStore) Update(ctx context.Context, k key.Key32, fn UpdateFunc) (*model.Slot, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	slot, err := scanSQLiteSlot(tx.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM oracle_slots WHERE key = ?`, k[:],
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("read slot: %w", err)
	}

	if err := fn(slot); err != nil {
		return nil, err
	}
	slot.Key = k
	slot.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`UPDATE oracle_slots SET data = ?, balance = ?, updated_at = ? WHERE key = ?`,
		slot.Data, int64(slot.Balance), slot.UpdatedAt.UnixNano(), k[:],
	); err != nil {
		return nil, fmt.Errorf("update slot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit slot tx: %w", err)
	}
	return slot, nil
}

// List returns slots ordered by creation time.
func (r *SQLiteSlotStore) List(ctx context.Context, limit, offset int) ([]*model.Slot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+slotColumns+` FROM oracle_slots ORDER BY created_at, key LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	out := []*model.Slot{}
	for rows.Next() {
		slot, err := scanSQLiteSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}

// Ping checks the database is reachable.
func (r *SQLiteSlotStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSlot(row rowScanner) (*model.Slot, error) {
	s := &model.Slot{}
	var k, owner []byte
	var balance, created, updated int64
	if err := row.Scan(&k, &owner, &balance, &s.Data, &created, &updated); err != nil {
		return nil, err
	}
	copy(s.Key[:], k)
	copy(s.Owner[:], owner)
	s.Balance = uint64(balance)
	s.CreatedAt = time.Unix(0, created).UTC()
	s.UpdatedAt = time.Unix(0, updated).UTC()
	return s, nil
}
