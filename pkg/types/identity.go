package types

import (
	"crypto/sha256"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Sentinel errors for key and signature handling.
var (
	ErrNilPrivateKey    = errors.New("types: nil private key")
	ErrNilPublicKey     = errors.New("types: nil public key")
	ErrInvalidPublicKey = errors.New("types: invalid public key bytes")
	ErrInvalidSignature = errors.New("types: invalid signature encoding")
)

// PeerIdentity is a peer's public key and its derived routing address.
//
// Equality and hashing are defined over the raw compressed public key
// bytes, per spec: two identities with the same key are the same peer
// regardless of how they were parsed.
type PeerIdentity struct {
	pub *secp256k1.PublicKey
}

// NewPeerIdentity wraps a parsed public key.
func NewPeerIdentity(pub *secp256k1.PublicKey) PeerIdentity {
	return PeerIdentity{pub: pub}
}

// ParsePeerIdentity parses a compressed (33-byte) secp256k1 public key.
func ParsePeerIdentity(raw []byte) (PeerIdentity, error) {
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return PeerIdentity{}, ErrInvalidPublicKey
	}
	return PeerIdentity{pub: pub}, nil
}

// IsZero reports whether the identity carries no key.
func (p PeerIdentity) IsZero() bool {
	return p.pub == nil
}

// Raw returns the compressed public key bytes.
func (p PeerIdentity) Raw() []byte {
	if p.pub == nil {
		return nil
	}
	return p.pub.SerializeCompressed()
}

// Address derives the 20-byte routing address for this identity.
func (p PeerIdentity) Address() Address {
	if p.pub == nil {
		return ZeroAddress
	}
	return AddressFromPublicKey(p.Raw())
}

// Equal compares two identities by raw public key bytes.
func (p PeerIdentity) Equal(other PeerIdentity) bool {
	if p.pub == nil || other.pub == nil {
		return p.pub == other.pub
	}
	return p.pub.IsEqual(other.pub)
}

// Verify checks sig (DER-encoded ECDSA over secp256k1) against data's
// SHA-256 digest.
func (p PeerIdentity) Verify(data, sig []byte) bool {
	if p.pub == nil || len(sig) == 0 {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(data)
	return parsed.Verify(digest[:], p.pub)
}

// PrivateKey is a peer's signing key. It is kept distinct from
// PeerIdentity so that the signing key never has to flow through code
// paths that only need the public identity.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// NewPrivateKey wraps a secp256k1 private key.
func NewPrivateKey(key *secp256k1.PrivateKey) PrivateKey {
	return PrivateKey{key: key}
}

// GeneratePrivateKey creates a new random signing key.
func GeneratePrivateKey() (PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return PrivateKey{}, err
	}
	return PrivateKey{key: key}, nil
}

// ParsePrivateKey decodes a 32-byte raw scalar.
func ParsePrivateKey(raw []byte) (PrivateKey, error) {
	if len(raw) != 32 {
		return PrivateKey{}, ErrInvalidPublicKey
	}
	key := secp256k1.PrivKeyFromBytes(raw)
	return PrivateKey{key: key}, nil
}

// Raw returns the 32-byte scalar.
func (k PrivateKey) Raw() []byte {
	if k.key == nil {
		return nil
	}
	return k.key.Serialize()
}

// Identity returns the PeerIdentity derived from this key's public half.
func (k PrivateKey) Identity() PeerIdentity {
	if k.key == nil {
		return PeerIdentity{}
	}
	return PeerIdentity{pub: k.key.PubKey()}
}

// Sign produces a DER-encoded ECDSA signature over data's SHA-256 digest.
func (k PrivateKey) Sign(data []byte) ([]byte, error) {
	if k.key == nil {
		return nil, ErrNilPrivateKey
	}
	digest := sha256.Sum256(data)
	sig := ecdsa.Sign(k.key, digest[:])
	return sig.Serialize(), nil
}
