// Package codec implements the envelope wire format: a stateless,
// deterministic encode/decode pair over the frame layout from spec §3.
//
// The codec only ever produces and consumes the *payload* frames
// (version, type, sender, body..., signature) — the identity and empty
// delimiter frames that precede them on the wire are a concern of the
// router/dealer socket pattern, not of this package.
package codec

import (
	"bytes"

	"github.com/kadewire/transport/pkg/txerrors"
	"github.com/kadewire/transport/pkg/types"
)

// minPayloadFrames is version + type + sender + signature, the floor
// below which a decoded payload cannot possibly be well-formed.
const minPayloadFrames = 4

// Encode serializes msg into the ordered payload frames: version, type,
// sender, body..., signature. The signature covers frames 3..=N-1
// (version through the last body frame) concatenated, signed by key.
func Encode(msg types.Message, key types.PrivateKey, self types.Peer) ([][]byte, error) {
	versionFrame := encodeVersion(self.AppVersion)
	typeFrame := []byte{byte(msg.Kind)}
	senderFrame := encodeSender(self)

	signed := concatFrames(versionFrame, typeFrame, senderFrame, msg.Body)
	sig, err := key.Sign(signed)
	if err != nil {
		return nil, err
	}

	frames := make([][]byte, 0, minPayloadFrames+len(msg.Body))
	frames = append(frames, versionFrame, typeFrame, senderFrame)
	frames = append(frames, msg.Body...)
	frames = append(frames, sig)
	return frames, nil
}

// Decode parses the wire frames of one received multipart message into
// an Envelope. If isReply, frames[0] is taken as the reply-routing
// identity token and frames[1] must be the empty delimiter; otherwise
// frames[0] itself must be the empty delimiter. Fails with
// txerrors.ErrInvalidMessage on any malformed layout, missing
// signature, or signature mismatch.
func Decode(frames [][]byte, isReply bool) (types.Envelope, error) {
	var identity []byte
	if isReply {
		if len(frames) < 1 {
			return types.Envelope{}, txerrors.ErrInvalidMessage
		}
		identity = frames[0]
		frames = frames[1:]
	}

	if len(frames) < 1 || len(frames[0]) != 0 {
		return types.Envelope{}, txerrors.ErrInvalidMessage
	}
	payload := frames[1:]

	if len(payload) < minPayloadFrames {
		return types.Envelope{}, txerrors.ErrInvalidMessage
	}

	versionFrame := payload[0]
	typeFrame := payload[1]
	senderFrame := payload[2]
	body := payload[3 : len(payload)-1]
	sig := payload[len(payload)-1]

	if len(typeFrame) != 1 {
		return types.Envelope{}, txerrors.ErrInvalidMessage
	}
	if len(sig) == 0 {
		return types.Envelope{}, txerrors.ErrInvalidMessage
	}

	version, err := decodeVersion(versionFrame)
	if err != nil {
		return types.Envelope{}, txerrors.ErrInvalidMessage
	}
	sender, err := decodeSender(senderFrame)
	if err != nil {
		return types.Envelope{}, txerrors.ErrInvalidMessage
	}

	signed := concatFrames(versionFrame, typeFrame, senderFrame, body)
	if !sender.Identity.Verify(signed, sig) {
		return types.Envelope{}, txerrors.ErrInvalidMessage
	}

	return types.Envelope{
		IdentityFrame: identity,
		Version:       version,
		Sender:        sender,
		Message: types.Message{
			Kind: types.MessageKind(typeFrame[0]),
			Body: copyFrames(body),
		},
		Signature: append([]byte{}, sig...),
	}, nil
}

func concatFrames(version, typeFrame, sender []byte, body [][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(version)
	buf.Write(typeFrame)
	buf.Write(sender)
	for _, b := range body {
		buf.Write(b)
	}
	return buf.Bytes()
}

func copyFrames(frames [][]byte) [][]byte {
	out := make([][]byte, len(frames))
	for i, f := range frames {
		out[i] = append([]byte{}, f...)
	}
	return out
}
