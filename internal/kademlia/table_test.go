package kademlia

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadewire/transport/pkg/types"
)

func TestTableUpdateIgnoresSelf(t *testing.T) {
	key, err := types.GeneratePrivateKey()
	require.NoError(t, err)
	local := key.Identity().Address()

	table := NewTable(local, DefaultTableSize, 4)
	self := types.Peer{Identity: key.Identity()}.Bind(types.Endpoint{Host: "127.0.0.1", Port: 1})

	assert.False(t, table.Update(self))
	assert.Equal(t, 0, table.Size())
}

func TestTableUpdateAndGet(t *testing.T) {
	localKey, err := types.GeneratePrivateKey()
	require.NoError(t, err)
	table := NewTable(localKey.Identity().Address(), DefaultTableSize, 4)

	p := testPeer(t, 1)
	assert.True(t, table.Update(p))

	got, ok := table.Get(p.Address())
	require.True(t, ok)
	assert.Equal(t, p.Address(), got.Address())
	assert.Equal(t, 1, table.Size())
}

func TestTableRemove(t *testing.T) {
	localKey, err := types.GeneratePrivateKey()
	require.NoError(t, err)
	table := NewTable(localKey.Identity().Address(), DefaultTableSize, 4)

	p := testPeer(t, 1)
	table.Update(p)
	assert.True(t, table.Remove(p.Address()))
	assert.False(t, table.Remove(p.Address()))
	assert.Equal(t, 0, table.Size())
}

func TestTableClosestToOrdersByXORDistance(t *testing.T) {
	localKey, err := types.GeneratePrivateKey()
	require.NoError(t, err)
	table := NewTable(localKey.Identity().Address(), DefaultTableSize, 20)

	var peers []types.BoundPeer
	for i := uint16(1); i <= 5; i++ {
		p := testPeer(t, i)
		peers = append(peers, p)
		table.Update(p)
	}

	target := peers[2].Address()
	closest := table.ClosestTo(target, 3)
	require.Len(t, closest, 3)
	assert.Equal(t, target, closest[0].Address())
}

func TestTableBucketIndexClampsForExactMatch(t *testing.T) {
	localKey, err := types.GeneratePrivateKey()
	require.NoError(t, err)
	local := localKey.Identity().Address()
	table := NewTable(local, 8, 4)

	assert.Equal(t, len(table.buckets)-1, table.bucketIndex(local))
}
