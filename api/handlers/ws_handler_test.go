package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/yt-relay/internal/domain"
)

func TestWSClient_EnqueueFullBuffer(t *testing.T) {
	client := newWSClient(nil, 1)

	require.NoError(t, client.Enqueue([]byte("first")))
	err := client.Enqueue([]byte("second"))
	assert.ErrorIs(t, err, domain.ErrDeliveryFailure)
	assert.Equal(t, []byte("first"), <-client.send)
}

func TestWSClient_EnqueueAfterClose(t *testing.T) {
	client := newWSClient(nil, 4)
	client.Close()
	client.Close()

	assert.ErrorIs(t, client.Enqueue([]byte("late")), domain.ErrDeliveryFailure)
	assert.Empty(t, client.send)
}

func TestWSClient_SyncedOnFirstMessage(t *testing.T) {
	client := newWSClient(nil, 4)

	select {
	case <-client.synced:
		t.Fatal("synced before any message")
	default:
	}

	require.NoError(t, client.Enqueue([]byte("snapshot")))
	select {
	case <-client.synced:
	case <-time.After(time.Second):
		t.Fatal("not synced after first message")
	}
}

func TestWSClient_UniqueIDs(t *testing.T) {
	a := newWSClient(nil, 1)
	b := newWSClient(nil, 1)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestConnectionHandler_PongWait(t *testing.T) {
	h := NewConnectionHandler(nil, nil, nil, domain.BroadcastConfig{PingInterval: 5 * time.Second}, nil)
	assert.Equal(t, 10*time.Second, h.pongWait())

	h = NewConnectionHandler(nil, nil, nil, domain.BroadcastConfig{}, nil)
	assert.Zero(t, h.pongWait())
	assert.Equal(t, 1, h.config.SendBuffer)
}
