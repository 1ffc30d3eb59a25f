// Package hashlink provides the one-way construction that binds a revealed
// secret to the commitment it replaces.
//
// A commitment is H(next || secret). Publishing commitment c and later
// revealing (next, secret) proves next continues the chain at c; the secret
// cannot be predicted from c, and no other next satisfies the same c.
package hashlink

import (
	"crypto/subtle"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/jmerrifield20/chainoracle/pkg/key"
)

// Verifier is the hash-link check consumed by the chain processor.
type Verifier interface {
	Verify(commitment, next, secret key.Key32) bool
}

// Linker is a Verifier that can also compute commitments.
type Linker interface {
	Verifier
	Link(next, secret key.Key32) key.Key32
	Name() string
}

type hashLinker struct {
	name    string
	newHash func() hash.Hash
}

func (l hashLinker) Name() string { return l.name }

func (l hashLinker) Link(next, secret key.Key32) key.Key32 {
	h := l.newHash()
	h.Write(next[:])
	h.Write(secret[:])

	var out key.Key32
	copy(out[:], h.Sum(nil))
	return out
}

func (l hashLinker) Verify(commitment, next, secret key.Key32) bool {
	want := l.Link(next, secret)
	return subtle.ConstantTimeCompare(want[:], commitment[:]) == 1
}

// Blake2b links with BLAKE2b-256.
func Blake2b() Linker {
	return hashLinker{name: "blake2b", newHash: func() hash.Hash {
		h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes
		return h
	}}
}

// SHA3 links with SHA3-256.
func SHA3() Linker {
	return hashLinker{name: "sha3", newHash: sha3.New256}
}

// ByName returns the linker registered under name.
func ByName(name string) (Linker, error) {
	switch name {
	case "blake2b", "":
		return Blake2b(), nil
	case "sha3", "sha3-256":
		return SHA3(), nil
	default:
		return nil, fmt.Errorf("unknown hash link %q", name)
	}
}
