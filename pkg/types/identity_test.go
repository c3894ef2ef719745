package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivateKeySignAndVerify(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	data := []byte("payload to sign")
	sig, err := key.Sign(data)
	require.NoError(t, err)

	id := key.Identity()
	assert.True(t, id.Verify(data, sig))
	assert.False(t, id.Verify([]byte("tampered"), sig))
}

func TestPeerIdentityRawRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	id := key.Identity()
	parsed, err := ParsePeerIdentity(id.Raw())
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))
	assert.Equal(t, id.Address(), parsed.Address())
}

func TestParsePeerIdentityRejectsGarbage(t *testing.T) {
	_, err := ParsePeerIdentity([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestZeroPrivateKeySignFails(t *testing.T) {
	var key PrivateKey
	_, err := key.Sign([]byte("x"))
	assert.ErrorIs(t, err, ErrNilPrivateKey)
}

func TestZeroPeerIdentityIsZero(t *testing.T) {
	var id PeerIdentity
	assert.True(t, id.IsZero())
	assert.Nil(t, id.Raw())
	assert.Equal(t, ZeroAddress, id.Address())
}
