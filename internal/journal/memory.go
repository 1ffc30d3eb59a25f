package journal

import (
	"context"
	"fmt"
	"sync"
)

// MemoryJournal is an in-memory, thread-safe Journal.
// It does not survive restarts.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemory creates a MemoryJournal holding only the genesis entry.
func NewMemory() *MemoryJournal {
	return &MemoryJournal{entries: []*Entry{genesis(now())}}
}

// Append implements Journal.
func (j *MemoryJournal) Append(_ context.Context, e *Entry) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := *e
	seal(&entry, j.entries[len(j.entries)-1], now())
	j.entries = append(j.entries, &entry)

	out := entry
	return &out, nil
}

// Get implements Journal.
func (j *MemoryJournal) Get(_ context.Context, index int) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if index < 0 || index >= len(j.entries) {
		return nil, fmt.Errorf("%w: index %d", ErrEntryNotFound, index)
	}
	out := *j.entries[index]
	return &out, nil
}

// Len implements Journal.
func (j *MemoryJournal) Len(_ context.Context) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries), nil
}

// Verify implements Journal.
func (j *MemoryJournal) Verify(_ context.Context) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for i, curr := range j.entries {
		if i == 0 {
			if curr.Hash != GenesisHash {
				return &IntegrityError{Index: 0, Reason: "genesis entry has wrong hash"}
			}
			continue
		}
		if err := verifyLink(j.entries[i-1], curr); err != nil {
			return err
		}
	}
	return nil
}

// Root implements Journal.
func (j *MemoryJournal) Root(_ context.Context) (string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.entries[len(j.entries)-1].Hash, nil
}
