// Package instruction parses and serializes the oracle's request wire format:
// one tag byte followed by a fixed-size payload. There is no length prefix
// and no tolerance for short or trailing bytes.
package instruction

import (
	"github.com/jmerrifield20/chainoracle/internal/programerr"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

// Tag selects the instruction variant.
type Tag uint8

const (
	TagInit Tag = iota
	TagAdvance
	TagBumpPointer
	TagRegisterCallback
)

// String returns the instruction name for the tag.
func (t Tag) String() string {
	switch t {
	case TagInit:
		return "Init"
	case TagAdvance:
		return "Advance"
	case TagBumpPointer:
		return "BumpPointer"
	case TagRegisterCallback:
		return "RegisterCallback"
	default:
		return "Unknown"
	}
}

// Instruction is one of Init, Advance, BumpPointer or RegisterCallback.
type Instruction interface {
	Tag() Tag
	payloadLen() int
	putPayload(dst []byte)
}

// Init sets up an empty slot with the first commitment of a chain.
type Init struct {
	InitialCommitment key.Key32
}

// Advance moves the chain head to Next, authorized by knowledge of Secret.
type Advance struct {
	Next   key.Key32
	Secret key.Key32
}

// BumpPointer increments the sequence pointer without a secret. Authority only.
type BumpPointer struct{}

// RegisterCallback appends Address to the callback registry.
type RegisterCallback struct {
	Address key.Key32
}

func (Init) Tag() Tag             { return TagInit }
func (Advance) Tag() Tag          { return TagAdvance }
func (BumpPointer) Tag() Tag      { return TagBumpPointer }
func (RegisterCallback) Tag() Tag { return TagRegisterCallback }

func (Init) payloadLen() int             { return key.Size }
func (Advance) payloadLen() int          { return 2 * key.Size }
func (BumpPointer) payloadLen() int      { return 0 }
func (RegisterCallback) payloadLen() int { return key.Size }

func (ix Init) putPayload(dst []byte) { copy(dst, ix.InitialCommitment[:]) }

func (ix Advance) putPayload(dst []byte) {
	copy(dst[:key.Size], ix.Next[:])
	copy(dst[key.Size:], ix.Secret[:])
}

func (BumpPointer) putPayload([]byte) {}

func (ix RegisterCallback) putPayload(dst []byte) { copy(dst, ix.Address[:]) }

// Unpack decodes data into an Instruction.
func Unpack(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, programerr.ErrInvalidInstruction
	}
	tag, rest := Tag(data[0]), data[1:]

	var ix Instruction
	switch tag {
	case TagInit:
		if len(rest) != key.Size {
			return nil, programerr.ErrInvalidInstruction
		}
		var v Init
		copy(v.InitialCommitment[:], rest)
		ix = v
	case TagAdvance:
		if len(rest) != 2*key.Size {
			return nil, programerr.ErrInvalidInstruction
		}
		var v Advance
		copy(v.Next[:], rest[:key.Size])
		copy(v.Secret[:], rest[key.Size:])
		ix = v
	case TagBumpPointer:
		if len(rest) != 0 {
			return nil, programerr.ErrInvalidInstruction
		}
		ix = BumpPointer{}
	case TagRegisterCallback:
		if len(rest) != key.Size {
			return nil, programerr.ErrInvalidInstruction
		}
		var v RegisterCallback
		copy(v.Address[:], rest)
		ix = v
	default:
		return nil, programerr.ErrInvalidInstruction
	}
	return ix, nil
}

// Pack encodes ix into its wire form.
func Pack(ix Instruction) []byte {
	out := make([]byte, 1+ix.payloadLen())
	out[0] = byte(ix.Tag())
	ix.putPayload(out[1:])
	return out
}
