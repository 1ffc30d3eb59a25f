// Package key defines the 32-byte opaque value used throughout the oracle for
// commitments, secrets, slot addresses and program identities.
//
// Keys render as base58, the convention of the hosting ledger. Parse also
// accepts 64-character hex so that hash digests can be pasted directly.
package key

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Size is the length of a key in bytes.
const Size = 32

// ErrInvalidKey is returned when a textual key cannot be decoded into 32 bytes.
var ErrInvalidKey = errors.New("invalid key")

// Key32 is a 32-byte opaque value.
type Key32 [Size]byte

// Zero is the all-zero key.
var Zero Key32

// FromBytes copies b into a Key32. b must be exactly Size bytes.
func FromBytes(b []byte) (Key32, error) {
	var k Key32
	if len(b) != Size {
		return k, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, Size, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Parse decodes a base58 or hex encoded key.
func Parse(s string) (Key32, error) {
	if len(s) == 2*Size {
		if b, err := hex.DecodeString(s); err == nil {
			return FromBytes(b)
		}
	}
	b, err := base58.Decode(s)
	if err != nil {
		return Key32{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return FromBytes(b)
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) Key32 {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// New returns a key filled from crypto/rand.
func New() (Key32, error) {
	var k Key32
	if _, err := rand.Read(k[:]); err != nil {
		return k, fmt.Errorf("read random key: %w", err)
	}
	return k, nil
}

// String returns the base58 form of the key.
func (k Key32) String() string {
	return base58.Encode(k[:])
}

// Hex returns the lowercase hex form of the key.
func (k Key32) Hex() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether every byte of the key is zero.
func (k Key32) IsZero() bool {
	return k == Zero
}

// Bytes returns a copy of the key as a slice.
func (k Key32) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, k[:])
	return b
}

// MarshalText implements encoding.TextMarshaler.
func (k Key32) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key32) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
