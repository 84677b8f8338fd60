// Package starknetprovider implements pkg/provider.ChainProvider for
// Starknet, normalizing the sequencer gateway's block shape (invoke/
// declare/deploy/deploy-account/l1-handler transactions, events, L1<->L2
// messages, 32-byte big-endian field elements) into the chain-agnostic
// pkg/record types.
//
// The adapter is built against a small injectable GatewayClient interface
// so it can be exercised in tests against a fake gateway with no live
// network dependency; HTTPGateway is the real implementation.
package starknetprovider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goran-ethernal/chain-dna/internal/metrics"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/provider"
	"github.com/goran-ethernal/chain-dna/pkg/record"
)

const providerName = "starknet"

// FieldElement is a Starknet field element: a big-endian 32-byte value,
// the fixed-width shape used for every address/hash/key field.
type FieldElement [32]byte

// Bytes returns f's big-endian byte representation.
func (f FieldElement) Bytes() []byte {
	b := make([]byte, 32)
	copy(b, f[:])
	return b
}

// FieldElementFromBytes left-pads b into a FieldElement.
func FieldElementFromBytes(b []byte) FieldElement {
	var f FieldElement
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(f[32-len(b):], b)
	return f
}

// BlockID selects which block a GatewayClient should fetch.
type BlockID struct {
	Latest  bool
	Pending bool
	Number  uint64
}

// TransactionKind tags one of the five Starknet transaction variants.
type TransactionKind string

const (
	TxInvoke        TransactionKind = "invoke"
	TxDeclare       TransactionKind = "declare"
	TxDeploy        TransactionKind = "deploy"
	TxDeployAccount TransactionKind = "deploy_account"
	TxL1Handler     TransactionKind = "l1_handler"
)

// GatewayTransaction is one transaction as returned by the sequencer
// gateway, flattened across all five transaction variants.
type GatewayTransaction struct {
	Kind               TransactionKind
	Hash               FieldElement
	ContractAddress    FieldElement
	EntryPointSelector FieldElement
	Calldata           []FieldElement
	ClassHash          FieldElement
	SenderAddress      FieldElement
}

// GatewayEvent is one emitted event.
type GatewayEvent struct {
	FromAddress FieldElement
	Keys        []FieldElement
	Data        []FieldElement
}

// GatewayL1ToL2Message is the consumed L1 message that triggered an
// L1Handler transaction, if any.
type GatewayL1ToL2Message struct {
	FromAddress []byte
	ToAddress   FieldElement
	Selector    FieldElement
	Payload     []FieldElement
}

// GatewayL2ToL1Message is a message sent from L2 to L1.
type GatewayL2ToL1Message struct {
	FromAddress FieldElement
	ToAddress   []byte
	Payload     []FieldElement
}

// GatewayReceipt is one confirmed transaction receipt.
type GatewayReceipt struct {
	TransactionHash      FieldElement
	L1ToL2ConsumedMessage *GatewayL1ToL2Message
	L2ToL1Messages       []GatewayL2ToL1Message
	Events               []GatewayEvent
}

// GatewayBlock is a fetched, confirmed Starknet block.
type GatewayBlock struct {
	BlockHash       FieldElement
	ParentBlockHash FieldElement
	BlockNumber     uint64
	Timestamp       int64
	Transactions    []GatewayTransaction
	Receipts        []GatewayReceipt
}

// ErrPendingBlock is returned by a GatewayClient when asked for a
// confirmed block but the gateway only has a pending one at that id.
var ErrPendingBlock = errors.New("starknetprovider: unexpected pending block")

// GatewayClient is the capability this adapter normalizes over. A live
// implementation would wrap a sequencer gateway or Starknet JSON-RPC
// client; tests wire in a fake.
type GatewayClient interface {
	GetBlock(ctx context.Context, id BlockID) (*GatewayBlock, error)
}

var _ provider.ChainProvider = (*Provider)(nil)

// Provider is a ChainProvider backed by a Starknet GatewayClient.
//
// Starknet's gateway exposes no separate "finalized" block tag the way an
// EVM post-merge client does, so GetFinalizedHead considers a block final
// once it is ConfirmationDepth blocks behind the latest accepted block.
type Provider struct {
	client            GatewayClient
	retry             provider.BackoffConfig
	confirmationDepth uint64
}

// Config configures a new Provider.
type Config struct {
	Retry             provider.BackoffConfig
	ConfirmationDepth uint64
}

// New wraps client into a ChainProvider.
func New(client GatewayClient, cfg Config) *Provider {
	depth := cfg.ConfirmationDepth
	if depth == 0 {
		depth = 10
	}
	return &Provider{client: client, retry: cfg.Retry, confirmationDepth: depth}
}

func (p *Provider) fetch(ctx context.Context, method string, id BlockID) (*GatewayBlock, error) {
	start := time.Now()
	metrics.RPCMethodInc(providerName, method)
	var block *GatewayBlock
	err := provider.Retry(ctx, p.retry, func() error {
		var fetchErr error
		block, fetchErr = p.client.GetBlock(ctx, id)
		return classify(fetchErr)
	})
	metrics.RPCMethodDuration(providerName, method, time.Since(start))
	if err != nil {
		metrics.RPCMethodError(providerName, provider.ClassOf(err).String())
		return nil, err
	}
	return block, nil
}

// GetHead implements provider.ChainProvider.
func (p *Provider) GetHead(ctx context.Context) (cursor.Cursor, error) {
	block, err := p.fetch(ctx, "getBlock:latest", BlockID{Latest: true})
	if err != nil {
		return cursor.Cursor{}, err
	}
	return blockCursor(block), nil
}

// GetFinalizedHead implements provider.ChainProvider.
func (p *Provider) GetFinalizedHead(ctx context.Context) (cursor.Cursor, error) {
	head, err := p.fetch(ctx, "getBlock:latest", BlockID{Latest: true})
	if err != nil {
		return cursor.Cursor{}, err
	}
	if head.BlockNumber < p.confirmationDepth {
		return cursor.Cursor{}, provider.NewError(provider.ClassNotFound, "starknet", provider.ErrNotFound)
	}
	finalizedNum := head.BlockNumber - p.confirmationDepth
	block, err := p.fetch(ctx, "getBlock:number", BlockID{Number: finalizedNum})
	if err != nil {
		return cursor.Cursor{}, err
	}
	return blockCursor(block), nil
}

// GetBlockByNumber implements provider.ChainProvider.
func (p *Provider) GetBlockByNumber(ctx context.Context, number uint64) (*record.Block, error) {
	block, err := p.fetch(ctx, "getBlock:number", BlockID{Number: number})
	if err != nil {
		return nil, err
	}
	return normalize(block), nil
}

// GetBlockByHash implements provider.ChainProvider. The gateway interface
// is number-addressed (mirroring the upstream Starknet sequencer gateway,
// which resolves blocks by number or "latest"/"pending", not by hash), so
// this is satisfied by fetching the latest block and only accepting it if
// the hash matches; callers needing an arbitrary historical hash should
// resolve it to a number via StorageReader first.
func (p *Provider) GetBlockByHash(ctx context.Context, hash []byte) (*record.Block, error) {
	block, err := p.fetch(ctx, "getBlock:latest", BlockID{Latest: true})
	if err != nil {
		return nil, err
	}
	if !equalBytes(block.BlockHash.Bytes(), hash) {
		return nil, provider.NewError(provider.ClassNotFound, "starknet", provider.ErrNotFound)
	}
	return normalize(block), nil
}

func normalize(block *GatewayBlock) *record.Block {
	c := blockCursor(block)

	transactions := make([]record.Transaction, len(block.Transactions))
	receipts := make([]record.Receipt, len(block.Receipts))
	var events []record.Event
	var messages []record.Message

	for i, tx := range block.Transactions {
		transactions[i] = record.Transaction{
			Cursor: c,
			Index:  uint32(i),
			Hash:   tx.Hash.Bytes(),
			Extra:  encodeTransactionExtra(tx),
		}
	}

	for i, rc := range block.Receipts {
		receipts[i] = record.Receipt{
			Cursor:          c,
			Index:           uint32(i),
			TransactionHash: rc.TransactionHash.Bytes(),
		}

		for _, ev := range rc.Events {
			keys := make([][]byte, len(ev.Keys))
			for ki, k := range ev.Keys {
				keys[ki] = k.Bytes()
			}
			data := make([][]byte, len(ev.Data))
			for di, d := range ev.Data {
				data[di] = d.Bytes()
			}
			events = append(events, record.Event{
				Cursor:      c,
				Index:       uint32(len(events)),
				FromAddress: ev.FromAddress.Bytes(),
				Keys:        keys,
				Data:        data,
			})
		}

		if m := rc.L1ToL2ConsumedMessage; m != nil {
			payload := make([][]byte, len(m.Payload))
			for pi, p := range m.Payload {
				payload[pi] = p.Bytes()
			}
			messages = append(messages, record.Message{
				Cursor:      c,
				Index:       uint32(len(messages)),
				FromAddress: m.FromAddress,
				ToAddress:   m.ToAddress.Bytes(),
				Payload:     payload,
			})
		}

		for _, m := range rc.L2ToL1Messages {
			payload := make([][]byte, len(m.Payload))
			for pi, p := range m.Payload {
				payload[pi] = p.Bytes()
			}
			messages = append(messages, record.Message{
				Cursor:      c,
				Index:       uint32(len(messages)),
				FromAddress: m.FromAddress.Bytes(),
				ToAddress:   m.ToAddress,
				Payload:     payload,
			})
		}
	}

	return &record.Block{
		Cursor: c,
		Header: record.Header{
			Cursor:     c,
			ParentHash: block.ParentBlockHash.Bytes(),
			Timestamp:  block.Timestamp,
		},
		Transactions: transactions,
		Receipts:     receipts,
		Events:       events,
		Messages:     messages,
	}
}

// encodeTransactionExtra packs the fields that vary by transaction kind
// into a small deterministic representation; decoding it back out is a
// chain-adapter concern this core pipeline never needs (transactions are
// opaque past ingestion), so the kind string, a zero byte, then every
// 32-byte field and calldata element concatenated without length
// prefixes is enough.
func encodeTransactionExtra(tx GatewayTransaction) []byte {
	out := []byte(tx.Kind)
	out = append(out, 0)
	out = append(out, tx.ContractAddress.Bytes()...)
	out = append(out, tx.EntryPointSelector.Bytes()...)
	out = append(out, tx.ClassHash.Bytes()...)
	out = append(out, tx.SenderAddress.Bytes()...)
	for _, c := range tx.Calldata {
		out = append(out, c.Bytes()...)
	}
	return out
}

func blockCursor(b *GatewayBlock) cursor.Cursor {
	return cursor.New(b.BlockNumber, b.BlockHash.Bytes())
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// classify maps a GatewayClient error into the provider error taxonomy:
// rate limiting and generic RPC failure are transient, a pending block
// where a confirmed one was expected is permanent/malformed.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPendingBlock) {
		return provider.NewError(provider.ClassMalformed, "starknet", err)
	}
	return provider.NewError(provider.ClassTransient, "starknet", fmt.Errorf("starknetprovider: %w", err))
}
