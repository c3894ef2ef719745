package turnclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptyServerAddr(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestAllocationLifetimeBeforeAllocate(t *testing.T) {
	c := &Client{permissions: make(map[string]time.Duration)}
	_, ok := c.AllocationLifetime()
	assert.False(t, ok)
}

func TestRefreshSkewConstant(t *testing.T) {
	assert.Equal(t, 60*time.Second, RefreshSkew())
}

func TestRelayedStreamReadWriteClose(t *testing.T) {
	serverConn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer serverConn.Close()

	clientConn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer clientConn.Close()

	stream := &RelayedStream{
		conn:   serverConn,
		remote: clientConn.LocalAddr(),
		in:     make(chan []byte, 4),
		closed: make(chan struct{}),
	}

	n, err := stream.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 16)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, _, err := clientConn.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:got]))

	stream.in <- []byte("world")
	readBuf := make([]byte, 16)
	n, err = stream.Read(readBuf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(readBuf[:n]))

	require.NoError(t, stream.Close())
	_, err = stream.Read(readBuf)
	assert.ErrorIs(t, err, net.ErrClosed)

	assert.Equal(t, clientConn.LocalAddr(), stream.RemoteAddr())
}

func TestDemuxLoopRoutesByRemoteAddress(t *testing.T) {
	relayConn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer relayConn.Close()

	c := &Client{
		permissions: make(map[string]time.Duration),
		streams:     make(chan *RelayedStream, 4),
		closed:      make(chan struct{}),
	}
	go c.demuxLoop(relayConn)

	senderA, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer senderA.Close()

	_, err = senderA.WriteTo([]byte("from-a"), relayConn.LocalAddr())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream, err := c.AcceptRelayedStream(ctx)
	require.NoError(t, err)
	assert.Equal(t, senderA.LocalAddr().String(), stream.RemoteAddr().String())

	buf := make([]byte, 16)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "from-a", string(buf[:n]))
}
