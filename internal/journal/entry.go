package journal

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/jmerrifield20/chainoracle/pkg/key"
)

// GenesisHash is the well-known hash of the genesis entry. It anchors the log.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry records one accepted invocation and the record state it produced.
type Entry struct {
	Index         int       `json:"index"`
	ID            uuid.UUID `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Slot          key.Key32 `json:"slot"`
	Instruction   string    `json:"instruction"` // Init, Advance, BumpPointer, RegisterCallback, genesis
	Caller        key.Key32 `json:"caller"`
	Pointer       uint32    `json:"pointer"`
	Commitment    key.Key32 `json:"commitment"`
	CallbackCount uint32    `json:"callback_count"`
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}

// hashEntry computes SHA-256 over the entry's fields in a fixed binary layout.
// Never called on genesis.
func hashEntry(e *Entry) string {
	h := sha256.New()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(e.Index))
	h.Write(buf[:])
	h.Write(e.ID[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(e.Timestamp.UnixNano()))
	h.Write(buf[:])
	h.Write(e.Slot[:])
	h.Write([]byte(e.Instruction))
	h.Write([]byte{0})
	h.Write(e.Caller[:])
	binary.LittleEndian.PutUint32(buf[:4], e.Pointer)
	h.Write(buf[:4])
	h.Write(e.Commitment[:])
	binary.LittleEndian.PutUint32(buf[:4], e.CallbackCount)
	h.Write(buf[:4])
	h.Write([]byte(e.PrevHash))

	return hex.EncodeToString(h.Sum(nil))
}

// now returns the current time at the precision Postgres stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// seal fills the chaining fields of e as the successor of prev.
func seal(e *Entry, prev *Entry, ts time.Time) {
	e.Index = prev.Index + 1
	e.ID = uuid.New()
	e.Timestamp = ts
	e.PrevHash = prev.Hash
	e.Hash = hashEntry(e)
}

func genesis(ts time.Time) *Entry {
	return &Entry{
		Index:       0,
		Timestamp:   ts,
		Instruction: "genesis",
		PrevHash:    GenesisHash,
		Hash:        GenesisHash,
	}
}

// verifyLink checks curr against its predecessor.
func verifyLink(prev, curr *Entry) error {
	if curr.PrevHash != prev.Hash {
		return &IntegrityError{Index: curr.Index, Reason: "hash chain broken"}
	}
	if curr.Hash != hashEntry(curr) {
		return &IntegrityError{Index: curr.Index, Reason: "invalid hash"}
	}
	return nil
}
