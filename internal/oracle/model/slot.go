package model

import (
	"time"

	"github.com/jmerrifield20/chainoracle/internal/state"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

// Slot is a storage slot as held by the host: an address, the program that
// owns it, its funding balance and the raw record bytes.
type Slot struct {
	Key       key.Key32 `json:"key"        db:"key"`
	Owner     key.Key32 `json:"owner"      db:"owner"`
	Balance   uint64    `json:"balance"    db:"balance"`
	Data      []byte    `json:"-"          db:"data"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of s.
func (s *Slot) Clone() *Slot {
	cp := *s
	cp.Data = append([]byte(nil), s.Data...)
	return &cp
}

// AllocateRequest is the payload for POST /api/v1/slots.
type AllocateRequest struct {
	// Base is the key the slot address is derived from; the holder of its
	// private key is the slot's controlling authority.
	Base key.Key32 `json:"base"`
	// Balance funds the slot. Zero means the rent-exempt minimum.
	Balance uint64 `json:"balance"`
	// Owner overrides the owning program. Defaults to this program; other
	// owners are refused unless the service allows them.
	Owner *key.Key32 `json:"owner,omitempty"`
	// Proof is an "allocate" signer proof by Base over the derived slot.
	Proof string `json:"proof"`
}

// InvokeRequest is the payload for POST /api/v1/slots/:key/invoke.
type InvokeRequest struct {
	Caller key.Key32 `json:"caller"`
	// Instruction is the base64 wire form of the instruction.
	Instruction []byte `json:"instruction" binding:"required"`
	// Proofs are signer proofs over Instruction; see package identity.
	Proofs []string `json:"proofs,omitempty"`
}

// RecordView is the JSON form of a slot and its decoded chain record.
type RecordView struct {
	Slot          key.Key32   `json:"slot"`
	Owner         key.Key32   `json:"owner"`
	Balance       uint64      `json:"balance"`
	Initialized   bool        `json:"initialized"`
	Commitment    key.Key32   `json:"commitment"`
	Pointer       uint32      `json:"pointer"`
	CallbackCount uint32      `json:"callback_count"`
	Callbacks     []key.Key32 `json:"callbacks"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewRecordView combines a slot with its decoded record.
func NewRecordView(s *Slot, r *state.Record) *RecordView {
	return &RecordView{
		Slot:          s.Key,
		Owner:         s.Owner,
		Balance:       s.Balance,
		Initialized:   r.Initialized,
		Commitment:    r.Commitment,
		Pointer:       r.Pointer,
		CallbackCount: r.CallbackCount,
		Callbacks:     r.Registered(),
		UpdatedAt:     s.UpdatedAt,
	}
}

// ProgramInfo is returned by GET /api/v1/program.
type ProgramInfo struct {
	ProgramID    key.Key32 `json:"program_id"`
	SlotSeed     string    `json:"slot_seed"`
	HashLink     string    `json:"hash_link"`
	RecordLen    int       `json:"record_len"`
	RentMinimum  uint64    `json:"rent_minimum"`
	MaxCallbacks int       `json:"max_callbacks"`
}

// ProgramError is the JSON body returned for a rejected invocation.
type ProgramError struct {
	Error  string `json:"error"`
	Name   string `json:"name"`
	Code   uint32 `json:"code"`
	Custom bool   `json:"custom"`
}
