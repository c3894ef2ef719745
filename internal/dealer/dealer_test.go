package dealer

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadewire/transport/internal/codec"
	"github.com/kadewire/transport/pkg/txerrors"
	"github.com/kadewire/transport/pkg/types"
)

type fakeRequeuer struct {
	requeued chan *types.MessageRequest
}

func (f *fakeRequeuer) Requeue(req *types.MessageRequest) {
	f.requeued <- req
}

type fakeLiveness struct {
	received chan types.BoundPeer
}

func (f *fakeLiveness) Receive(remote types.BoundPeer) {
	f.received <- remote
}

func testKeyAndSelf(t *testing.T) (types.PrivateKey, types.Peer) {
	t.Helper()
	key, err := types.GeneratePrivateKey()
	require.NoError(t, err)
	return key, types.Peer{Identity: key.Identity(), AppVersion: types.AppProtocolVersion{Version: 1}}
}

// echoRouter binds a raw ROUTER socket that replies once to every
// request it receives with a PONG carrying peerSelf.AppVersion, standing in for
// a real peer's router endpoint without pulling in internal/router.
func echoRouter(t *testing.T, ctx context.Context, peerKey types.PrivateKey, peerSelf types.Peer, replyKind types.MessageKind) string {
	t.Helper()
	socket := zmq4.NewRouter(ctx)
	require.NoError(t, socket.Listen("tcp://127.0.0.1:0"))
	t.Cleanup(func() { socket.Close() })

	go func() {
		for {
			msg, err := socket.Recv()
			if err != nil {
				return
			}
			identity := msg.Frames[0]
			payload, err := codec.Encode(types.Message{Kind: replyKind}, peerKey, peerSelf)
			if err != nil {
				return
			}
			reply := append([][]byte{identity, {}}, payload...)
			_ = socket.SendMulti(zmq4.NewMsgFrom(reply...))
		}
	}()

	return "tcp://" + socket.Addr().String()
}

func newTestPool(t *testing.T, requeuer Requeuer, liveness LivenessSink) (*Pool, types.PrivateKey, types.Peer) {
	t.Helper()
	key, self := testKeyAndSelf(t)
	self.AppVersion = types.AppProtocolVersion{Version: 1}
	pool := New(Config{
		Workers:    1,
		Requeuer:   requeuer,
		Liveness:   liveness,
		Self:       self,
		PrivateKey: key,
	})
	return pool, key, self
}

func TestExchangeResolvesOnReply(t *testing.T) {
	ctx := context.Background()
	peerKey, peerSelf := testKeyAndSelf(t)
	addr := echoRouter(t, ctx, peerKey, peerSelf, types.KindPong)

	liveness := &fakeLiveness{received: make(chan types.BoundPeer, 1)}
	pool, _, _ := newTestPool(t, &fakeRequeuer{requeued: make(chan *types.MessageRequest, 1)}, liveness)

	req := types.NewMessageRequest(
		types.Peer{Identity: peerKey.Identity()}.Bind(mustParseEndpoint(t, addr)),
		types.Message{Kind: types.KindPing},
		2*time.Second,
		1,
	)

	replies, err := pool.exchange(ctx, req)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, types.KindPong, replies[0].Message.Kind)
}

func TestHandleResolvesCompletionHandleOnSuccess(t *testing.T) {
	ctx := context.Background()
	peerKey, peerSelf := testKeyAndSelf(t)
	addr := echoRouter(t, ctx, peerKey, peerSelf, types.KindPong)

	liveness := &fakeLiveness{received: make(chan types.BoundPeer, 1)}
	pool, _, _ := newTestPool(t, &fakeRequeuer{requeued: make(chan *types.MessageRequest, 1)}, liveness)

	req := types.NewMessageRequest(
		types.Peer{Identity: peerKey.Identity()}.Bind(mustParseEndpoint(t, addr)),
		types.Message{Kind: types.KindPing},
		2*time.Second,
		1,
	)

	pool.handle(ctx, req)

	replies, err := req.CompletionHandle.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, replies, 1)

	select {
	case <-liveness.received:
	case <-time.After(time.Second):
		t.Fatal("liveness sink never notified on first reply")
	}
}

func TestHandleFailsOnDifferentVersion(t *testing.T) {
	ctx := context.Background()
	// peer replies with a version different from dealer's self version.
	peerKey, peerSelf := testKeyAndSelf(t)
	peerSelf.AppVersion = types.AppProtocolVersion{Version: 99}
	addr := echoRouter(t, ctx, peerKey, peerSelf, types.KindPong)

	liveness := &fakeLiveness{received: make(chan types.BoundPeer, 1)}
	pool, _, _ := newTestPool(t, &fakeRequeuer{requeued: make(chan *types.MessageRequest, 1)}, liveness)

	req := types.NewMessageRequest(
		types.Peer{Identity: peerKey.Identity()}.Bind(mustParseEndpoint(t, addr)),
		types.Message{Kind: types.KindPing},
		2*time.Second,
		1,
	)

	pool.handle(ctx, req)

	_, err := req.CompletionHandle.Wait(context.Background())
	assert.ErrorIs(t, err, txerrors.ErrDifferentVersion)
}

func TestHandleFailsWithTimeoutWhenPeerUnreachable(t *testing.T) {
	pool, _, _ := newTestPool(t, &fakeRequeuer{requeued: make(chan *types.MessageRequest, 1)}, &fakeLiveness{received: make(chan types.BoundPeer, 1)})

	badKey, err := types.GeneratePrivateKey()
	require.NoError(t, err)
	// Nothing listens on this port; the dealer socket dials lazily and
	// Recv blocks until the per-request timeout fires.
	req := types.NewMessageRequest(
		types.Peer{Identity: badKey.Identity()}.Bind(types.Endpoint{Host: "127.0.0.1", Port: 1}),
		types.Message{Kind: types.KindPing},
		200*time.Millisecond,
		1,
	)

	pool.handle(context.Background(), req)

	_, err = req.CompletionHandle.Wait(context.Background())
	assert.ErrorIs(t, err, txerrors.ErrTimeout)
}

func mustParseEndpoint(t *testing.T, dialAddr string) types.Endpoint {
	t.Helper()
	// dialAddr looks like "tcp://127.0.0.1:PORT"; Endpoint.DialAddr()
	// rebuilds the same string from Host/Port, so split it back out.
	const prefix = "tcp://"
	require.True(t, strings.HasPrefix(dialAddr, prefix))
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(dialAddr, prefix))
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)
	return types.Endpoint{Host: host, Port: uint16(port)}
}
