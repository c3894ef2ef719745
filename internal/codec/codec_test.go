package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kadewire/transport/pkg/txerrors"
	"github.com/kadewire/transport/pkg/types"
)

func testSelf(t *testing.T) (types.PrivateKey, types.Peer) {
	key, err := types.GeneratePrivateKey()
	require.NoError(t, err)
	version := types.AppProtocolVersion{Version: 1}
	version, err = version.Sign(key)
	require.NoError(t, err)
	peer := types.Peer{Identity: key.Identity(), AppVersion: version}
	return key, peer
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key, self := testSelf(t)
	msg := types.Message{Kind: types.KindPing, Body: [][]byte{[]byte("hello")}}

	payload, err := Encode(msg, key, self)
	require.NoError(t, err)

	wire := append([][]byte{{}}, payload...)
	env, err := Decode(wire, false)
	require.NoError(t, err)

	require.True(t, env.Sender.Identity.Equal(self.Identity))
	require.Equal(t, types.KindPing, env.Message.Kind)
	require.Equal(t, [][]byte{[]byte("hello")}, env.Message.Body)
	require.False(t, env.IsReply())
}

func TestDecodeReplyCarriesIdentityFrame(t *testing.T) {
	key, self := testSelf(t)
	msg := types.Message{Kind: types.KindPong}

	payload, err := Encode(msg, key, self)
	require.NoError(t, err)

	wire := append([][]byte{[]byte("router-token"), {}}, payload...)
	env, err := Decode(wire, true)
	require.NoError(t, err)
	require.True(t, env.IsReply())
	require.Equal(t, []byte("router-token"), env.IdentityFrame)
}

func TestDecodeRejectsTamperedSignedFrame(t *testing.T) {
	key, self := testSelf(t)
	msg := types.Message{Kind: types.KindPing, Body: [][]byte{[]byte("hello")}}

	payload, err := Encode(msg, key, self)
	require.NoError(t, err)

	// Flip a bit in the sender frame, which is covered by the signature.
	tampered := payload[2][0] ^ 0x01
	payload[2][0] = tampered

	wire := append([][]byte{{}}, payload...)
	_, err = Decode(wire, false)
	require.ErrorIs(t, err, txerrors.ErrInvalidMessage)
}

func TestDecodeRejectsMissingSignature(t *testing.T) {
	key, self := testSelf(t)
	msg := types.Message{Kind: types.KindPing}

	payload, err := Encode(msg, key, self)
	require.NoError(t, err)
	payload[len(payload)-1] = nil

	wire := append([][]byte{{}}, payload...)
	_, err = Decode(wire, false)
	require.ErrorIs(t, err, txerrors.ErrInvalidMessage)
}

func TestDecodeRejectsMalformedFrameCount(t *testing.T) {
	_, err := Decode([][]byte{{}, []byte("onlyone")}, false)
	require.ErrorIs(t, err, txerrors.ErrInvalidMessage)
}
