package types

import (
	"bytes"
	"encoding/binary"
)

// AppProtocolVersion is a signed application-level version descriptor.
// It is opaque to the transport beyond the Version number and the
// signature, which the transport verifies against Signer.
type AppProtocolVersion struct {
	Version   int32
	Extra     []byte
	Signature []byte
	Signer    PeerIdentity
}

// signedPayload returns the bytes the signature covers: Version and
// Extra, in that order. Signer is excluded since it is the key that
// verifies the signature, not data the signature protects.
func (v AppProtocolVersion) signedPayload() []byte {
	buf := make([]byte, 4, 4+len(v.Extra))
	binary.BigEndian.PutUint32(buf, uint32(v.Version))
	return append(buf, v.Extra...)
}

// Sign fills in Signature and Signer using key.
func (v AppProtocolVersion) Sign(key PrivateKey) (AppProtocolVersion, error) {
	sig, err := key.Sign(v.signedPayload())
	if err != nil {
		return v, err
	}
	v.Signature = sig
	v.Signer = key.Identity()
	return v, nil
}

// VerifySignature reports whether Signature verifies against Signer for
// this version's payload. A version with no signer never verifies.
func (v AppProtocolVersion) VerifySignature() bool {
	if v.Signer.IsZero() {
		return false
	}
	return v.Signer.Verify(v.signedPayload(), v.Signature)
}

// Equal reports whether two versions carry the same Version number and
// Extra payload, ignoring signature/signer.
func (v AppProtocolVersion) Equal(other AppProtocolVersion) bool {
	return v.Version == other.Version && bytes.Equal(v.Extra, other.Extra)
}

// CompatibilityPredicate decides whether a remote AppProtocolVersion is
// acceptable given the local version and the set of trusted signers.
type CompatibilityPredicate func(local, remote AppProtocolVersion, trustedSigners TrustedSigners) bool

// TrustedSigners is the set of public keys (by raw compressed bytes)
// whose foreign protocol versions the local node accepts even when the
// version numbers differ.
type TrustedSigners map[string]PeerIdentity

// NewTrustedSigners builds a TrustedSigners set from a list of identities.
func NewTrustedSigners(identities ...PeerIdentity) TrustedSigners {
	set := make(TrustedSigners, len(identities))
	for _, id := range identities {
		if !id.IsZero() {
			set[string(id.Raw())] = id
		}
	}
	return set
}

// Contains reports whether signer is in the trusted set.
func (s TrustedSigners) Contains(signer PeerIdentity) bool {
	if signer.IsZero() {
		return false
	}
	_, ok := s[string(signer.Raw())]
	return ok
}

// DefaultCompatibility implements spec §3/§8-property-7: versions are
// compatible iff they are byte-equal, or the remote's signer is a
// trusted signer and the signature verifies. An empty trusted-signer
// set with differing versions is always incompatible.
func DefaultCompatibility(local, remote AppProtocolVersion, trustedSigners TrustedSigners) bool {
	if local.Equal(remote) {
		return true
	}
	if len(trustedSigners) == 0 {
		return false
	}
	if !trustedSigners.Contains(remote.Signer) {
		return false
	}
	return remote.VerifySignature()
}
