package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises concurrent Append calls across oracle instances.
const advisoryLockKey = int64(2_034_611_877)

const selectColumns = `idx, id, ts, slot, instruction, caller, pointer, commitment, callback_count, prev_hash, hash`

// PostgresJournal persists the transition log to PostgreSQL.
type PostgresJournal struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a PostgresJournal backed by pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *PostgresJournal {
	return &PostgresJournal{pool: pool, logger: logger}
}

// Append implements Journal. It takes an advisory lock, reads the tail and
// inserts the sealed entry in one transaction.
func (j *PostgresJournal) Append(ctx context.Context, e *Entry) (*Entry, error) {
	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	prev := &Entry{}
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM oracle_journal ORDER BY idx DESC LIMIT 1",
	).Scan(&prev.Index, &prev.Hash); err != nil {
		return nil, fmt.Errorf("read journal tail: %w", err)
	}

	entry := *e
	seal(&entry, prev, now())

	if _, err := tx.Exec(ctx,
		`INSERT INTO oracle_journal (`+selectColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.Index, entry.ID, entry.Timestamp, entry.Slot[:], entry.Instruction,
		entry.Caller[:], int64(entry.Pointer), entry.Commitment[:], int64(entry.CallbackCount),
		entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert journal entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit journal tx: %w", err)
	}

	j.logger.Debug("journal entry appended",
		zap.Int("idx", entry.Index),
		zap.String("instruction", entry.Instruction),
		zap.Stringer("slot", entry.Slot),
	)
	return &entry, nil
}

// Get implements Journal.
func (j *PostgresJournal) Get(ctx context.Context, index int) (*Entry, error) {
	e, err := scanEntry(j.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM oracle_journal WHERE idx = $1`, index,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: index %d", ErrEntryNotFound, index)
		}
		return nil, fmt.Errorf("get journal entry %d: %w", index, err)
	}
	return e, nil
}

// Len implements Journal.
func (j *PostgresJournal) Len(ctx context.Context) (int, error) {
	var n int
	if err := j.pool.QueryRow(ctx, "SELECT COUNT(*) FROM oracle_journal").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}
	return n, nil
}

// Verify implements Journal. It streams every row in index order; O(n).
func (j *PostgresJournal) Verify(ctx context.Context) error {
	rows, err := j.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM oracle_journal ORDER BY idx ASC`,
	)
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan journal row: %w", err)
		}
		if prev == nil {
			if curr.Hash != GenesisHash {
				return &IntegrityError{Index: curr.Index, Reason: "genesis entry has wrong hash"}
			}
		} else if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Journal.
func (j *PostgresJournal) Root(ctx context.Context) (string, error) {
	var hash string
	if err := j.pool.QueryRow(ctx,
		"SELECT hash FROM oracle_journal ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get journal root: %w", err)
	}
	return hash, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	var slot, caller, commitment []byte
	var pointer, callbacks int64
	if err := row.Scan(
		&e.Index, &e.ID, &e.Timestamp, &slot, &e.Instruction,
		&caller, &pointer, &commitment, &callbacks,
		&e.PrevHash, &e.Hash,
	); err != nil {
		return nil, err
	}
	copy(e.Slot[:], slot)
	copy(e.Caller[:], caller)
	copy(e.Commitment[:], commitment)
	e.Pointer = uint32(pointer)
	e.CallbackCount = uint32(callbacks)
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}
