package kademlia

import (
	"encoding/binary"
	"fmt"

	"github.com/kadewire/transport/pkg/types"
)

// encodeFindTarget builds the single body frame of a FIND message.
func encodeFindTarget(target types.Address) [][]byte {
	return [][]byte{append([]byte{}, target.Bytes()...)}
}

// DecodeFindTarget parses the single body frame of a FIND message,
// exported for the transport's inbound dispatch to use directly.
func DecodeFindTarget(body [][]byte) (types.Address, error) {
	return decodeFindTarget(body)
}

func decodeFindTarget(body [][]byte) (types.Address, error) {
	if len(body) != 1 || len(body[0]) != types.AddressSize {
		return types.ZeroAddress, fmt.Errorf("kademlia: malformed FIND body")
	}
	var addr types.Address
	copy(addr[:], body[0])
	return addr, nil
}

// encodeNeighbors builds the body frames of a NEIGHBORS reply: one
// frame per peer, holding the length-prefixed pubkey and host followed
// by a 2-byte big-endian port.
func encodeNeighbors(peers []types.BoundPeer) [][]byte {
	frames := make([][]byte, 0, len(peers))
	for _, p := range peers {
		frames = append(frames, encodeBoundPeer(p))
	}
	return frames
}

func decodeNeighbors(body [][]byte) ([]types.BoundPeer, error) {
	out := make([]types.BoundPeer, 0, len(body))
	for _, f := range body {
		p, err := decodeBoundPeer(f)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func encodeBoundPeer(p types.BoundPeer) []byte {
	pub := p.Identity.Raw()
	host := []byte(p.Endpoint.Host)

	var buf []byte
	buf = appendUint32Prefixed(buf, pub)
	buf = appendUint32Prefixed(buf, host)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], p.Endpoint.Port)
	buf = append(buf, portBuf[:]...)
	return buf
}

func decodeBoundPeer(frame []byte) (types.BoundPeer, error) {
	pub, rest, err := takeUint32PrefixedLocal(frame)
	if err != nil {
		return types.BoundPeer{}, err
	}
	host, rest, err := takeUint32PrefixedLocal(rest)
	if err != nil {
		return types.BoundPeer{}, err
	}
	if len(rest) != 2 {
		return types.BoundPeer{}, fmt.Errorf("kademlia: malformed peer frame")
	}
	port := binary.BigEndian.Uint16(rest)

	identity, err := types.ParsePeerIdentity(pub)
	if err != nil {
		return types.BoundPeer{}, err
	}
	return types.BoundPeer{
		Peer:     types.Peer{Identity: identity},
		Endpoint: types.Endpoint{Host: string(host), Port: port},
	}, nil
}

func appendUint32Prefixed(dst, field []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(field)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, field...)
}

func takeUint32PrefixedLocal(data []byte) (field, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("kademlia: short length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(n) > uint64(len(data)) {
		return nil, nil, fmt.Errorf("kademlia: length prefix exceeds remaining data")
	}
	return data[:n], data[n:], nil
}
