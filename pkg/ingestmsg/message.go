// Package ingestmsg defines the ingestion event bus between the chain
// tracker and every stream subscriber. The tracker only ever holds a
// send-side handle it owns, never a back-reference into subscriber state,
// so subscribers can come and go without keeping the tracker alive.
package ingestmsg

import (
	"sync"

	"github.com/goran-ethernal/chain-dna/pkg/cursor"
)

// Kind tags the variant an IngestionMessage carries.
type Kind int

const (
	// Accepted announces a new block at the accepted (not yet finalized) tip.
	Accepted Kind = iota
	// Finalized announces that the finalized tip has advanced to Cursor.
	Finalized
	// Invalidated announces that Cursor (and everything after it) has been
	// rolled back by a reorg and must no longer be treated as canonical.
	Invalidated
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Finalized:
		return "finalized"
	case Invalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// Message is a single tagged ingestion event.
type Message struct {
	Kind   Kind
	Cursor cursor.Cursor
}

// FinalityState is the process-wide finalized/accepted cursor pair.
// Invariant: FinalizedCursor.Number <= AcceptedCursor.Number. HasFinalized
// and HasAccepted distinguish "not observed yet" from a genuine cursor at
// height 0, since both are otherwise indistinguishable from the zero value.
type FinalityState struct {
	FinalizedCursor cursor.Cursor
	AcceptedCursor  cursor.Cursor
	HasFinalized    bool
	HasAccepted     bool
}

// defaultBuffer is the per-subscriber channel capacity. Once a subscriber
// holds this many undelivered messages, Publish drops further messages for
// it instead of blocking; the subscriber itself stays registered.
const defaultBuffer = 256

// Hub fans ingestion messages out to every currently-registered
// subscriber. The zero value is not usable; use NewHub.
type Hub struct {
	mu   sync.Mutex
	subs map[uint64]chan Message
	next uint64
}

// NewHub returns an empty, ready-to-use Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan Message)}
}

// Subscribe registers a new receiver and returns its channel plus an
// unregister function. The caller must call unregister (typically via
// defer) once it stops reading; until then the channel stays registered
// and Publish skips it whenever its buffer is full (see Publish).
// Unregister removes the channel and closes it.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Message, defaultBuffer)
	h.subs[id] = ch
	unregister := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(existing)
		}
	}
	return ch, unregister
}

// Publish delivers msg to every currently-registered subscriber. A
// subscriber whose buffer is full is skipped for this message rather than
// blocking the tracker loop; a stream re-derives its position
// from storage on its next poll regardless, so a dropped
// notification only costs latency, never correctness.
func (h *Hub) Publish(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// SubscriberCount returns the number of currently-registered subscribers,
// for diagnostic reporting.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
