// Package identity turns client signatures into the signer facts the chain
// processor consumes.
//
// A signer proof is a short-lived EdDSA JWT. Its subject is the signer's
// ed25519 public key in base58. The remaining claims bind it to one use:
//
//	act   "invoke" or "allocate"
//	slot  the slot address (base58)
//	ptr   the slot's pointer when the proof was issued
//	ixh   hex SHA-256 of the exact instruction bytes (invoke only)
//
// The host checks ptr against the record under the slot lock, so a proof
// stops authorising anything once the record it was issued for has moved.
// The jti is single-use; see ReplayCache.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jmerrifield20/chainoracle/pkg/key"
)

const (
	// DefaultProofTTL is the lifetime of proofs issued with a zero TTL.
	DefaultProofTTL = 2 * time.Minute
	// MaxProofTTL bounds how long a proof may claim to live. ReplayCache
	// entries never need to outlive it.
	MaxProofTTL = 10 * time.Minute
)

// Proof actions.
const (
	ActionInvoke   = "invoke"
	ActionAllocate = "allocate"
)

var (
	// ErrProofMismatch is returned when a proof is valid but authorises
	// something other than the request it is attached to.
	ErrProofMismatch = errors.New("proof does not cover this request")
	// ErrProofTTL is returned for proofs whose lifetime exceeds MaxProofTTL.
	ErrProofTTL = errors.New("proof lifetime too long")
)

// Scope is what a proof authorises.
type Scope struct {
	Action  string
	Slot    key.Key32
	Pointer uint32
	Data    []byte
}

// ProofClaims are the JWT claims of a signer proof.
type ProofClaims struct {
	jwt.RegisteredClaims
	Action          string `json:"act"`
	Slot            string `json:"slot"`
	Pointer         uint32 `json:"ptr"`
	InstructionHash string `json:"ixh,omitempty"`
}

// Proof is a verified signer proof.
type Proof struct {
	Signer    key.Key32
	ID        string
	Pointer   uint32
	ExpiresAt time.Time
}

// InstructionHash returns the hex SHA-256 of instruction bytes.
func InstructionHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func scopeHash(s Scope) string {
	if s.Action == ActionAllocate {
		return ""
	}
	return InstructionHash(s.Data)
}

// PublicKey returns the Key32 form of priv's public key.
func PublicKey(priv ed25519.PrivateKey) key.Key32 {
	var k key.Key32
	copy(k[:], priv.Public().(ed25519.PublicKey))
	return k
}

// IssueProof signs a proof that the holder of priv authorises scope.
func IssueProof(priv ed25519.PrivateKey, scope Scope, ttl time.Duration) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	if scope.Action != ActionInvoke && scope.Action != ActionAllocate {
		return "", fmt.Errorf("unknown proof action %q", scope.Action)
	}
	if ttl == 0 {
		ttl = DefaultProofTTL
	}

	now := time.Now().UTC()
	claims := ProofClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   PublicKey(priv).String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		Action:          scope.Action,
		Slot:            scope.Slot.String(),
		Pointer:         scope.Pointer,
		InstructionHash: scopeHash(scope),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("sign proof: %w", err)
	}
	return signed, nil
}

// VerifyProof checks a proof's signature, lifetime, action, slot and
// instruction hash against want. want.Pointer is not compared: the pointer
// claim is returned in the Proof for the caller to check against the record
// while it holds the slot.
func VerifyProof(tokenStr string, want Scope) (*Proof, error) {
	var signer key.Key32
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&ProofClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			sub, err := tok.Claims.GetSubject()
			if err != nil {
				return nil, err
			}
			signer, err = key.Parse(sub)
			if err != nil {
				return nil, fmt.Errorf("proof subject: %w", err)
			}
			return ed25519.PublicKey(signer[:]), nil
		},
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify proof: %w", err)
	}

	claims, ok := token.Claims.(*ProofClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid proof claims")
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("proof has no jti")
	}
	if claims.IssuedAt == nil || claims.ExpiresAt.Sub(claims.IssuedAt.Time) > MaxProofTTL {
		return nil, ErrProofTTL
	}
	if claims.Action != want.Action || claims.Slot != want.Slot.String() || claims.InstructionHash != scopeHash(want) {
		return nil, ErrProofMismatch
	}

	return &Proof{
		Signer:    signer,
		ID:        claims.ID,
		Pointer:   claims.Pointer,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
