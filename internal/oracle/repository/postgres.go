package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmerrifield20/chainoracle/internal/oracle/model"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

const slotColumns = `key, owner, balance, data, created_at, updated_at`

// PostgresSlotStore persists slots in PostgreSQL. Update holds a row lock
// for the duration of the callback so concurrent invocations on one slot
// are serialised.
type PostgresSlotStore struct {
	db *pgxpool.Pool
}

// NewPostgresSlotStore creates a PostgresSlotStore.
func NewPostgresSlotStore(db *pgxpool.Pool) *PostgresSlotStore {
	return &PostgresSlotStore{db: db}
}

// Create inserts a new slot.
func (r *PostgresSlotStore) Create(ctx context.Context, slot *model.Slot) error {
	now := time.Now().UTC()
	slot.CreatedAt = now
	slot.UpdatedAt = now

	_, err := r.db.Exec(ctx,
		`INSERT INTO oracle_slots (`+slotColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		slot.Key[:], slot.Owner[:], int64(slot.Balance), slot.Data, slot.CreatedAt, slot.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSlotExists
		}
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

// Get returns the slot at k.
func (r *PostgresSlotStore) Get(ctx context.Context, k key.Key32) (*model.Slot, error) {
	slot, err := scanSlot(r.db.QueryRow(ctx,
		`SELECT `+slotColumns+` FROM oracle_slots WHERE key = $1`, k[:],
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

// Update locks the row, runs fn and writes the data and balance back in the
// same transaction.
func (r *PostgresSlotStore) Update(ctx context.Context, k key.Key32, fn UpdateFunc) (*model.Slot, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	slot, err := scanSlot(tx.QueryRow(ctx,
		`SELECT `+slotColumns+` FROM oracle_slots WHERE key = $1 FOR UPDATE`, k[:],
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("lock slot: %w", err)
	}

	if err := fn(slot); err != nil {
		return nil, err
	}
	slot.Key = k
	slot.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx,
		`UPDATE oracle_slots SET data = $2, balance = $3, updated_at = $4 WHERE key = $1`,
		k[:], slot.Data, int64(slot.Balance), slot.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update slot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit slot tx: %w", err)
	}
	return slot, nil
}

// List returns slots ordered by creation time.
func (r *PostgresSlotStore) List(ctx context.Context, limit, offset int) ([]*model.Slot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+slotColumns+` FROM oracle_slots ORDER BY created_at, key LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	out := []*model.Slot{}
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}

// Ping checks database connectivity.
func (r *PostgresSlotStore) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanSlot(row pgx.Row) (*model.Slot, error) {
	s := &model.Slot{}
	var k, owner []byte
	var balance int64
	if err := row.Scan(&k, &owner, &balance, &s.Data, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	copy(s.Key[:], k)
	copy(s.Owner[:], owner)
	s.Balance = uint64(balance)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}
