package state

import (
	"encoding/binary"

	"github.com/jmerrifield20/chainoracle/internal/programerr"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

// CallbackEntryLen is the encoded size of a CallbackEntry.
const CallbackEntryLen = 1 + 1 + key.Size + 4 + 1

// CallbackEntry describes a callback target with delivery bookkeeping. The chain
// record stores bare addresses; entries are serialized on their own.
type CallbackEntry struct {
	Initialized bool
	Enabled     bool
	Address     key.Key32
	InvokeCount uint32
	LastError   uint8
}

// DecodeCallbackEntry parses a CallbackEntryLen buffer.
func DecodeCallbackEntry(src []byte) (*CallbackEntry, error) {
	if len(src) != CallbackEntryLen {
		return nil, programerr.ErrInvalidAccountData
	}
	initialized, ok1 := byteBool(src[0])
	enabled, ok2 := byteBool(src[1])
	if !ok1 || !ok2 {
		return nil, programerr.ErrInvalidAccountData
	}
	e := &CallbackEntry{
		Initialized: initialized,
		Enabled:     enabled,
		InvokeCount: binary.LittleEndian.Uint32(src[2+key.Size : 6+key.Size]),
		LastError:   src[6+key.Size],
	}
	copy(e.Address[:], src[2:2+key.Size])
	return e, nil
}

// EncodeCallbackEntry writes e into dst, which must be CallbackEntryLen bytes.
func EncodeCallbackEntry(e *CallbackEntry, dst []byte) error {
	if len(dst) != CallbackEntryLen {
		return programerr.ErrInvalidAccountData
	}
	dst[0] = boolByte(e.Initialized)
	dst[1] = boolByte(e.Enabled)
	copy(dst[2:2+key.Size], e.Address[:])
	binary.LittleEndian.PutUint32(dst[2+key.Size:6+key.Size], e.InvokeCount)
	dst[6+key.Size] = e.LastError
	return nil
}

// byteBool reads a stored flag; only 0 and 1 are valid.
func byteBool(b byte) (v, ok bool) {
	switch b {
	case 0:
		return false, true
	case 1:
		return true, true
	}
	return false, false
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
