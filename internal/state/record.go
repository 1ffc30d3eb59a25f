// Package state implements the fixed-size binary codec for the chain record
// persisted in a storage slot.
//
// Layout (little-endian integers, RecordLen = 3241 bytes):
//
//	offset  len   field
//	0       1     initialized flag (0 or 1)
//	1       32    commitment
//	33      4     pointer
//	37      4     callback_count
//	41      3200  callbacks, 100 slots of 32 bytes filled left to right
//
// Every length-derived value is bounds checked before it is trusted.
package state

import (
	"encoding/binary"

	"github.com/jmerrifield20/chainoracle/internal/programerr"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

const (
	// MaxCallbacks is the capacity of the callback registry.
	MaxCallbacks = 100

	// CallbackRegionLen is the size of the callbacks region in bytes.
	CallbackRegionLen = MaxCallbacks * key.Size

	// RecordLen is the encoded size of a Record.
	RecordLen = 1 + key.Size + 4 + 4 + CallbackRegionLen
)

const (
	offInitialized   = 0
	offCommitment    = 1
	offPointer       = offCommitment + key.Size
	offCallbackCount = offPointer + 4
	offCallbacks     = offCallbackCount + 4
)

// Record is the persistent chain state held by one storage slot.
type Record struct {
	Initialized   bool
	Commitment    key.Key32
	Pointer       uint32
	CallbackCount uint32
	Callbacks     [MaxCallbacks]key.Key32
}

// IsInitialized reports whether the slot has been set up by Init.
func (r *Record) IsInitialized() bool { return r.Initialized }

// Registered returns the registered callbacks in insertion order.
func (r *Record) Registered() []key.Key32 {
	n := r.CallbackCount
	if n > MaxCallbacks {
		n = MaxCallbacks
	}
	out := make([]key.Key32, n)
	copy(out, r.Callbacks[:n])
	return out
}

// AddCallback appends addr to the registry. The record is unchanged when the
// registry is full.
func (r *Record) AddCallback(addr key.Key32) error {
	if r.CallbackCount >= MaxCallbacks {
		return programerr.ErrTooManyCallbacks
	}
	r.Callbacks[r.CallbackCount] = addr
	r.CallbackCount++
	return nil
}

// Decode parses a slot buffer. An all-zero buffer yields an uninitialized
// record; a flag byte other than 0 or 1 is InvalidAccountData.
func Decode(src []byte) (*Record, error) {
	if len(src) != RecordLen {
		return nil, programerr.ErrInvalidAccountData
	}

	count := binary.LittleEndian.Uint32(src[offCallbackCount:offCallbacks])
	if uint64(count)*key.Size > CallbackRegionLen {
		return nil, programerr.ErrTooManyCallbacks
	}

	initialized, ok := byteBool(src[offInitialized])
	if !ok {
		return nil, programerr.ErrInvalidAccountData
	}

	r := &Record{
		Initialized:   initialized,
		Pointer:       binary.LittleEndian.Uint32(src[offPointer:offCallbackCount]),
		CallbackCount: count,
	}
	copy(r.Commitment[:], src[offCommitment:offPointer])

	region := src[offCallbacks:]
	for i := uint32(0); i < count; i++ {
		copy(r.Callbacks[i][:], region[i*key.Size:(i+1)*key.Size])
	}
	return r, nil
}

// Encode writes r into dst, which must be exactly RecordLen bytes. Callback
// slots past CallbackCount keep whatever dst held, so new buffers must be
// zeroed by the caller. Nothing is written when an error is returned.
func Encode(r *Record, dst []byte) error {
	if len(dst) != RecordLen {
		return programerr.ErrInvalidAccountData
	}
	if r.CallbackCount > MaxCallbacks {
		return programerr.ErrTooManyCallbacks
	}

	dst[offInitialized] = boolByte(r.Initialized)
	copy(dst[offCommitment:offPointer], r.Commitment[:])
	binary.LittleEndian.PutUint32(dst[offPointer:offCallbackCount], r.Pointer)
	binary.LittleEndian.PutUint32(dst[offCallbackCount:offCallbacks], r.CallbackCount)

	region := dst[offCallbacks:]
	for i := uint32(0); i < r.CallbackCount; i++ {
		copy(region[i*key.Size:(i+1)*key.Size], r.Callbacks[i][:])
	}
	return nil
}

// Marshal encodes r into a freshly zeroed buffer.
func Marshal(r *Record) ([]byte, error) {
	buf := make([]byte, RecordLen)
	if err := Encode(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
