// Package record defines the opaque, entity-tagged payloads that flow from
// ingestion into the segment storage engine. The shapes here are the
// smallest common structure the storage and indexing layers need (a cursor,
// an intra-block index, and — for events — the address/key fields the
// bitmap index is built over); everything else chain-specific is carried
// as an opaque, chain-adapter-encoded blob.
package record

import "github.com/goran-ethernal/chain-dna/pkg/cursor"

// EntityTag names one of the per-block column families persisted as a
// separate segment blob.
type EntityTag string

const (
	EntityHeader      EntityTag = "header"
	EntityTransaction EntityTag = "transaction"
	EntityReceipt     EntityTag = "receipt"
	EntityEvent       EntityTag = "event"
	EntityMessage     EntityTag = "message"
)

// AllEntities lists every column family a segment persists, in the order
// segments are flushed.
var AllEntities = []EntityTag{
	EntityHeader, EntityTransaction, EntityReceipt, EntityEvent, EntityMessage,
}

// Header carries one block's header plus chain-specific extra fields,
// opaque to the core and gob-encoded by the owning chain adapter.
type Header struct {
	Cursor     cursor.Cursor
	ParentHash []byte
	Timestamp  int64
	Extra      []byte
}

// Transaction is one transaction within a block.
type Transaction struct {
	Cursor cursor.Cursor
	Index  uint32
	Hash   []byte
	Extra  []byte
}

// Receipt is one transaction receipt within a block.
type Receipt struct {
	Cursor          cursor.Cursor
	Index           uint32
	TransactionHash []byte
	Extra           []byte
}

// Event is a single emitted event. FromAddress and Keys[0] are the two
// fields the bitmap index is built over; Data and any remaining keys are
// opaque.
type Event struct {
	Cursor      cursor.Cursor
	Index       uint32
	FromAddress []byte
	Keys        [][]byte
	Data        [][]byte
}

// Key0 returns the event's first key, or nil if it has none.
func (e Event) Key0() []byte {
	if len(e.Keys) == 0 {
		return nil
	}
	return e.Keys[0]
}

// Message is an L1<->L2 (or analogous cross-layer) message.
type Message struct {
	Cursor      cursor.Cursor
	Index       uint32
	FromAddress []byte
	ToAddress   []byte
	Payload     [][]byte
}

// Block is one fully-ingested block: a header plus every fragment owned by
// it, normalized by a chain adapter into this chain-agnostic shape.
type Block struct {
	Cursor       cursor.Cursor
	Header       Header
	Transactions []Transaction
	Receipts     []Receipt
	Events       []Event
	Messages     []Message
}

// Schema describes, for a given chain adapter, which entity tags it
// produces. The schema itself carries no field-level type information —
// the generated columnar record schema is out of scope for this core. No
// adapter or storage path in this module constructs or checks a Schema.
type Schema struct {
	Entities []EntityTag
}
