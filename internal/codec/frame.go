package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/kadewire/transport/pkg/txerrors"
	"github.com/kadewire/transport/pkg/types"
)

// putUint32Prefixed appends len(b) as a big-endian uint32 followed by b.
func putUint32Prefixed(dst []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, b...)
}

// takeUint32Prefixed reads one length-prefixed field from the front of
// data, returning the field and the remainder.
func takeUint32Prefixed(data []byte) (field, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("codec: short length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(n) > uint64(len(data)) {
		return nil, nil, fmt.Errorf("codec: length prefix exceeds remaining data")
	}
	return data[:n], data[n:], nil
}

// encodeVersion serializes an AppProtocolVersion into a single frame:
// version(int32) | extra | signature | signer-pubkey.
func encodeVersion(v types.AppProtocolVersion) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v.Version))
	out := append([]byte{}, buf[:]...)
	out = putUint32Prefixed(out, v.Extra)
	out = putUint32Prefixed(out, v.Signature)
	out = putUint32Prefixed(out, v.Signer.Raw())
	return out
}

// decodeVersion parses a version frame produced by encodeVersion.
func decodeVersion(frame []byte) (types.AppProtocolVersion, error) {
	if len(frame) < 4 {
		return types.AppProtocolVersion{}, txerrors.ErrInvalidMessage
	}
	version := int32(binary.BigEndian.Uint32(frame[:4]))
	rest := frame[4:]

	extra, rest, err := takeUint32Prefixed(rest)
	if err != nil {
		return types.AppProtocolVersion{}, txerrors.ErrInvalidMessage
	}
	sig, rest, err := takeUint32Prefixed(rest)
	if err != nil {
		return types.AppProtocolVersion{}, txerrors.ErrInvalidMessage
	}
	signerRaw, rest, err := takeUint32Prefixed(rest)
	if err != nil {
		return types.AppProtocolVersion{}, txerrors.ErrInvalidMessage
	}
	if len(rest) != 0 {
		return types.AppProtocolVersion{}, txerrors.ErrInvalidMessage
	}

	out := types.AppProtocolVersion{
		Version:   version,
		Extra:     append([]byte{}, extra...),
		Signature: append([]byte{}, sig...),
	}
	if len(signerRaw) > 0 {
		signer, err := types.ParsePeerIdentity(signerRaw)
		if err != nil {
			return types.AppProtocolVersion{}, txerrors.ErrInvalidMessage
		}
		out.Signer = signer
	}
	return out, nil
}

// encodeSender serializes the claimed sender Peer into a single frame:
// identity-pubkey | app-version-frame | public-ip.
func encodeSender(p types.Peer) []byte {
	out := putUint32Prefixed(nil, p.Identity.Raw())
	out = putUint32Prefixed(out, encodeVersion(p.AppVersion))
	var ip []byte
	if p.PublicIP != nil {
		ip = p.PublicIP
	}
	out = putUint32Prefixed(out, ip)
	return out
}

// decodeSender parses a sender frame produced by encodeSender.
func decodeSender(frame []byte) (types.Peer, error) {
	idRaw, rest, err := takeUint32Prefixed(frame)
	if err != nil || len(idRaw) == 0 {
		return types.Peer{}, txerrors.ErrInvalidMessage
	}
	identity, err := types.ParsePeerIdentity(idRaw)
	if err != nil {
		return types.Peer{}, txerrors.ErrInvalidMessage
	}

	versionFrame, rest, err := takeUint32Prefixed(rest)
	if err != nil {
		return types.Peer{}, txerrors.ErrInvalidMessage
	}
	version, err := decodeVersion(versionFrame)
	if err != nil {
		return types.Peer{}, txerrors.ErrInvalidMessage
	}

	ipRaw, rest, err := takeUint32Prefixed(rest)
	if err != nil || len(rest) != 0 {
		return types.Peer{}, txerrors.ErrInvalidMessage
	}

	peer := types.Peer{Identity: identity, AppVersion: version}
	if len(ipRaw) > 0 {
		peer.PublicIP = append([]byte{}, ipRaw...)
	}
	return peer, nil
}
