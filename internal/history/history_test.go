package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadewire/transport/pkg/types"
)

func testEnvelope(t *testing.T, sig []byte) types.Envelope {
	t.Helper()
	key, err := types.GeneratePrivateKey()
	require.NoError(t, err)
	return types.Envelope{
		Sender:    types.Peer{Identity: key.Identity()},
		Signature: sig,
	}
}

func TestObserveDetectsDuplicates(t *testing.T) {
	r := New()
	env := testEnvelope(t, []byte("signature-a"))

	assert.False(t, r.Observe(types.HistoryEntry{Envelope: env}))
	assert.True(t, r.Observe(types.HistoryEntry{Envelope: env}))
}

func TestObserveDistinguishesDifferentSignatures(t *testing.T) {
	r := New()
	env1 := testEnvelope(t, []byte("signature-a"))
	env2 := testEnvelope(t, []byte("signature-b"))

	assert.False(t, r.Observe(types.HistoryEntry{Envelope: env1}))
	assert.False(t, r.Observe(types.HistoryEntry{Envelope: env2}))
}

func TestObserveAlwaysRecordsHistoryRegardlessOfDuplicate(t *testing.T) {
	r := New()
	env := testEnvelope(t, []byte("signature-a"))

	r.Observe(types.HistoryEntry{Envelope: env})
	r.Observe(types.HistoryEntry{Envelope: env})

	assert.Equal(t, 2, r.Len())
}
