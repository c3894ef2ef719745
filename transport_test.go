package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadewire/transport/pkg/txerrors"
	"github.com/kadewire/transport/pkg/types"
)

func newTestNode(t *testing.T, version int32, opts ...Option) *Transport {
	t.Helper()
	key, err := types.GeneratePrivateKey()
	require.NoError(t, err)
	appVersion, err := types.AppProtocolVersion{Version: version}.Sign(key)
	require.NoError(t, err)

	base := []Option{
		WithPrivateKey(key),
		WithAppVersion(appVersion),
		WithHost("127.0.0.1"),
		WithListenPort(0),
	}
	tr, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return tr
}

// startAndRun brings a transport to Running and returns a cancel func
// that stops and disposes it, for use with t.Cleanup.
func startAndRun(t *testing.T, tr *Transport) func() {
	t.Helper()
	require.NoError(t, tr.Start(context.Background()))

	runCtx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		tr.Run(runCtx)
		close(runDone)
	}()

	require.NoError(t, tr.WaitForRunning(contextWithTimeout(t, 2*time.Second)))

	return func() {
		cancel()
		<-runDone
		tr.Stop(50 * time.Millisecond)
		tr.Dispose()
	}
}

func contextWithTimeout(t *testing.T, d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func boundPeerOf(tr *Transport) types.BoundPeer {
	return tr.LocalPeer().Bind(types.Endpoint{Host: "127.0.0.1", Port: tr.ListenPort()})
}

// S1: a PING to a compatible peer resolves with a PONG.
func TestPingPongRoundTrip(t *testing.T) {
	nodeA := newTestNode(t, 1)
	nodeB := newTestNode(t, 1)

	t.Cleanup(startAndRun(t, nodeA))
	t.Cleanup(startAndRun(t, nodeB))

	replies, err := nodeA.SendWithReply(context.Background(), boundPeerOf(nodeB), types.Message{Kind: types.KindPing}, time.Second, 1)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, types.KindPong, replies[0].Message.Kind)

	require.Eventually(t, func() bool {
		return hasKind(nodeB.InboundHistory(), types.KindPing) && hasKind(nodeA.OutboundHistory(), types.KindPong)
	}, time.Second, 10*time.Millisecond, "both histories should observe the Ping and the Pong")
}

func hasKind(entries []types.HistoryEntry, kind types.MessageKind) bool {
	for _, e := range entries {
		if e.Envelope.Message.Kind == kind {
			return true
		}
	}
	return false
}

// S2: a send to a peer that never replies times out.
func TestSendWithReplyTimesOutWithNoReplier(t *testing.T) {
	nodeA := newTestNode(t, 1)
	nodeB := newTestNode(t, 1) // no MessageHandler, so KindApplication never gets a reply

	t.Cleanup(startAndRun(t, nodeA))
	t.Cleanup(startAndRun(t, nodeB))

	start := time.Now()
	_, err := nodeA.SendWithReply(context.Background(), boundPeerOf(nodeB), types.Message{Kind: types.KindApplication}, 200*time.Millisecond, 1)
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Less(t, elapsed, time.Second)
}

// S3: a PING answered by a peer with an incompatible, untrusted
// AppProtocolVersion resolves as DifferentVersion rather than success,
// even though PING itself bypasses the router's version gate.
func TestPingAgainstIncompatibleVersionFails(t *testing.T) {
	nodeA := newTestNode(t, 1)
	nodeB := newTestNode(t, 2)

	t.Cleanup(startAndRun(t, nodeA))
	t.Cleanup(startAndRun(t, nodeB))

	_, err := nodeA.SendWithReply(context.Background(), boundPeerOf(nodeB), types.Message{Kind: types.KindPing}, time.Second, 1)
	assert.ErrorIs(t, err, txerrors.ErrDifferentVersion)
}

// S4: BroadcastMessage reaches every known peer except the excluded one.
func TestBroadcastMessageExcludesOnePeer(t *testing.T) {
	var mu sync.Mutex
	receivedBy := map[string]bool{}
	handlerFor := func(name string) MessageHandler {
		return func(env types.Envelope) {
			mu.Lock()
			receivedBy[name] = true
			mu.Unlock()
		}
	}

	nodeA := newTestNode(t, 1)
	nodeB := newTestNode(t, 1, WithMessageHandler(handlerFor("B")))
	nodeC := newTestNode(t, 1, WithMessageHandler(handlerFor("C")))
	nodeD := newTestNode(t, 1, WithMessageHandler(handlerFor("D")))

	t.Cleanup(startAndRun(t, nodeA))
	t.Cleanup(startAndRun(t, nodeB))
	t.Cleanup(startAndRun(t, nodeC))
	t.Cleanup(startAndRun(t, nodeD))

	// Prime A's routing table by successfully pinging each peer.
	for _, peer := range []*Transport{nodeB, nodeC, nodeD} {
		_, err := nodeA.SendWithReply(context.Background(), boundPeerOf(peer), types.Message{Kind: types.KindPing}, time.Second, 1)
		require.NoError(t, err)
	}

	require.NoError(t, nodeA.BroadcastMessage(context.Background(), nodeB.LocalPeer().Address(), types.Message{Kind: types.KindApplication}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return receivedBy["C"] && receivedBy["D"]
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, receivedBy["B"])
}

// Lifecycle: Start is rejected once already running, and Stop followed
// by Start is forbidden (instances are single-use after Stop).
func TestLifecycleTransitions(t *testing.T) {
	node := newTestNode(t, 1)
	cleanup := startAndRun(t, node)

	err := node.Start(context.Background())
	assert.ErrorIs(t, err, txerrors.ErrAlreadyRunning)

	cleanup()

	err = node.Start(context.Background())
	assert.ErrorIs(t, err, txerrors.ErrRestartForbidden)
}
