package repository

import (
	"errors"

	"github.com/jmerrifield20/chainoracle/internal/oracle/model"
)

var (
	// ErrSlotNotFound is returned when no slot exists at an address.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrSlotExists is returned by Create when the address is taken.
	ErrSlotExists = errors.New("slot already exists")
)

// UpdateFunc mutates a private copy of a slot while the store holds the slot
// exclusively. Returning an error discards the copy; the stored slot is only
// replaced when the function returns nil.
type UpdateFunc func(slot *model.Slot) error
