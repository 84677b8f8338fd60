package ingestmsg

import (
	"testing"

	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	hub := NewHub()
	ch1, unreg1 := hub.Subscribe()
	ch2, unreg2 := hub.Subscribe()
	defer unreg1()
	defer unreg2()

	msg := Message{Kind: Accepted, Cursor: cursor.New(1, []byte{0x01})}
	hub.Publish(msg)

	require.Equal(t, msg, <-ch1)
	require.Equal(t, msg, <-ch2)
}

func TestUnregisterClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, unregister := hub.Subscribe()
	require.Equal(t, 1, hub.SubscriberCount())

	unregister()
	require.Equal(t, 0, hub.SubscriberCount())
	_, open := <-ch
	require.False(t, open)

	// A second unregister is a no-op.
	unregister()
}

func TestPublishSkipsFullSubscriber(t *testing.T) {
	hub := NewHub()
	ch, unregister := hub.Subscribe()
	defer unregister()

	for i := 0; i < defaultBuffer+10; i++ {
		hub.Publish(Message{Kind: Accepted, Cursor: cursor.New(uint64(i), []byte{byte(i)})})
	}

	// The buffer holds exactly defaultBuffer messages; the overflow was
	// dropped without blocking Publish.
	require.Len(t, ch, defaultBuffer)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "accepted", Accepted.String())
	require.Equal(t, "finalized", Finalized.String())
	require.Equal(t, "invalidated", Invalidated.String())
}
