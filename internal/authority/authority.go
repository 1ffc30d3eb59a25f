// Package authority answers the two policy questions every administrative
// transition asks: did the caller sign, and is the caller the controlling
// authority of the slot. It also gates persistence on rent exemption.
//
// The gate functions do no I/O; the facts they judge are supplied by the host.
package authority

import (
	"crypto/sha256"

	"github.com/jmerrifield20/chainoracle/internal/programerr"
	"github.com/jmerrifield20/chainoracle/pkg/key"
)

// MaxSeedLen is the longest seed accepted by SeedDeriver.
const MaxSeedLen = 32

// Deriver computes deterministic addresses from a base key, a seed and the
// owning program's identity.
type Deriver interface {
	DeriveAddress(base key.Key32, seed string, programID key.Key32) (key.Key32, error)
}

// RentOracle reports whether balance keeps an account of size bytes alive.
type RentOracle interface {
	IsExempt(balance uint64, size int) bool
}

// SeedDeriver derives SHA-256(base || seed || programID).
type SeedDeriver struct{}

// DeriveAddress implements Deriver.
func (SeedDeriver) DeriveAddress(base key.Key32, seed string, programID key.Key32) (key.Key32, error) {
	if len(seed) > MaxSeedLen {
		return key.Key32{}, programerr.ErrMaxSeedLengthExceeded
	}
	h := sha256.New()
	h.Write(base[:])
	h.Write([]byte(seed))
	h.Write(programID[:])

	var out key.Key32
	copy(out[:], h.Sum(nil))
	return out, nil
}

// RequireSigner fails unless the caller signed the invocation.
func RequireSigner(signed bool) error {
	if !signed {
		return programerr.ErrMissingRequiredSignature
	}
	return nil
}

// RequireControllingAuthority fails unless candidate equals the derived
// authority address.
func RequireControllingAuthority(candidate, derived key.Key32) error {
	if candidate != derived {
		return programerr.ErrMissingRequiredSignature
	}
	return nil
}

// RequireRentExempt fails when balance does not cover an account of size bytes.
func RequireRentExempt(balance uint64, size int, oracle RentOracle) error {
	if !oracle.IsExempt(balance, size) {
		return programerr.ErrAccountNotRentExempt
	}
	return nil
}
