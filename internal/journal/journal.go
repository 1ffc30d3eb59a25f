// Package journal implements a hash-chained audit log of accepted chain
// oracle transitions.
//
// The log begins with a genesis entry whose Hash equals GenesisHash (64 hex
// zeros). Every later entry commits to its predecessor's hash, so rewriting
// history is detectable via Verify.
//
// Two implementations of the Journal interface are provided:
//   - MemoryJournal: in-process, for tests and the memory storage driver.
//   - PostgresJournal: durable, for production use.
package journal

import (
	"context"
	"errors"
	"fmt"
)

// ErrEntryNotFound is returned by Get for an index outside the log.
var ErrEntryNotFound = errors.New("journal entry not found")

// Journal is the interface for the append-only transition log.
type Journal interface {
	// Append chains e to the current tail. Index, ID, Timestamp, PrevHash and
	// Hash are assigned by the journal.
	Append(ctx context.Context, e *Entry) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the number of entries including genesis.
	Len(ctx context.Context) (int, error)

	// Verify walks the log and checks hash consistency.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry.
	Root(ctx context.Context) (string, error)
}

// IntegrityError reports the first entry that fails verification.
type IntegrityError struct {
	Index  int
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("journal entry %d: %s", e.Index, e.Reason)
}
