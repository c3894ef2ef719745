package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageHistoryEvictsOldest(t *testing.T) {
	h := NewMessageHistory()
	for i := 0; i < HistorySize+5; i++ {
		h.Record(HistoryEntry{Envelope: Envelope{Message: Message{Kind: MessageKind(i % 256)}}})
	}
	assert.Equal(t, HistorySize, h.Len())

	snap := h.Snapshot()
	require := assert.New(t)
	require.Len(snap, HistorySize)
	// The oldest surviving entry corresponds to index 5 (0..4 evicted).
	require.Equal(MessageKind(5), snap[0].Envelope.Message.Kind)
}

func TestMessageHistorySnapshotIsACopy(t *testing.T) {
	h := NewMessageHistory()
	h.Record(HistoryEntry{})
	snap := h.Snapshot()
	snap[0].Inbound = true

	fresh := h.Snapshot()
	assert.False(t, fresh[0].Inbound)
}
