package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmerrifield20/chainoracle/internal/oracle/model"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

// MemorySlotStore keeps slots in process memory. A single mutex serialises
// updates, which gives each invocation exclusive access to its slot.
type MemorySlotStore struct {
	mu    sync.Mutex
	slots map[key.Key32]*model.Slot
}

// NewMemorySlotStore creates an empty MemorySlotStore.
func NewMemorySlotStore() *MemorySlotStore {
	return &MemorySlotStore{slots: make(map[key.Key32]*model.Slot)}
}

// Create stores a new slot.
func (s *MemorySlotStore) Create(_ context.Context, slot *model.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[slot.Key]; ok {
		return ErrSlotExists
	}
	now := time.Now().UTC()
	slot.CreatedAt = now
	slot.UpdatedAt = now
	s.slots[slot.Key] = slot.Clone()
	return nil
}

// Get returns a copy of the slot at k.
func (s *MemorySlotStore) Get(_ context.Context, k key.Key32) (*model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[k]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return slot.Clone(), nil
}

// Update runs fn on a copy of the slot and stores the copy if fn succeeds.
func (s *MemorySlotStore) Update(_ context.Context, k key.Key32, fn UpdateFunc) (*model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[k]
	if !ok {
		return nil, ErrSlotNotFound
	}

	next := slot.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Key = k
	next.UpdatedAt = time.Now().UTC()
	s.slots[k] = next
	return next.Clone(), nil
}

// List returns slots ordered by creation time.
func (s *MemorySlotStore) List(_ context.Context, limit, offset int) ([]*model.Slot, error) {
	s.mu.Lock()
	all := make([]*model.Slot, 0, len(s.slots))
	for _, slot := range s.slots {
		all = append(all, slot.Clone())
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Key.String() < all[j].Key.String()
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return page(all, limit, offset), nil
}

// Ping always succeeds.
func (s *MemorySlotStore) Ping(context.Context) error { return nil }

func page(all []*model.Slot, limit, offset int) []*model.Slot {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []*model.Slot{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
