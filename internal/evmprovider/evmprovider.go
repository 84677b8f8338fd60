// Package evmprovider implements pkg/provider.ChainProvider for EVM-family
// chains on top of go-ethereum's ethclient/rpc packages, with every call
// retried through pkg/provider.Retry.
package evmprovider

import (
	"context"
	"fmt"
	"math/big"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/chain-dna/internal/metrics"
	indexertypes "github.com/goran-ethernal/chain-dna/internal/types"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/provider"
	"github.com/goran-ethernal/chain-dna/pkg/record"
)

const providerName = "evm"

var _ provider.ChainProvider = (*Provider)(nil)

// Provider is a ChainProvider backed by a live EVM JSON-RPC endpoint.
type Provider struct {
	eth      *ethclient.Client
	rpc      *gethrpc.Client
	retry    provider.BackoffConfig
	finality indexertypes.BlockFinality
}

// Config configures a new Provider.
type Config struct {
	// Finality selects which RPC block tag GetFinalizedHead resolves
	// against: "finalized" (default) or "safe".
	Finality indexertypes.BlockFinality
	Retry    provider.BackoffConfig
}

// Dial connects to endpoint and returns a ready Provider.
func Dial(ctx context.Context, endpoint string, cfg Config) (*Provider, error) {
	rpcClient, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("evmprovider: dialing %s: %w", endpoint, err)
	}

	finality := cfg.Finality
	if finality == "" {
		finality = indexertypes.FinalityFinalized
	}

	return &Provider{
		eth:      ethclient.NewClient(rpcClient),
		rpc:      rpcClient,
		retry:    cfg.Retry,
		finality: finality,
	}, nil
}

// Close releases the underlying RPC connection.
func (p *Provider) Close() {
	p.eth.Close()
}

func (p *Provider) call(ctx context.Context, method string, fn func() error) error {
	start := time.Now()
	metrics.RPCMethodInc(providerName, method)
	err := provider.Retry(ctx, p.retry, fn)
	metrics.RPCMethodDuration(providerName, method, time.Since(start))
	if err != nil {
		metrics.RPCMethodError(providerName, provider.ClassOf(err).String())
	}
	return err
}

// GetHead implements provider.ChainProvider.
func (p *Provider) GetHead(ctx context.Context) (cursor.Cursor, error) {
	var header *types.Header
	err := p.call(ctx, "eth_getBlockByNumber", func() error {
		var fetchErr error
		header, fetchErr = p.eth.HeaderByNumber(ctx, nil)
		return classify(fetchErr)
	})
	if err != nil {
		return cursor.Cursor{}, err
	}
	return headerCursor(header), nil
}

// GetFinalizedHead implements provider.ChainProvider, resolving the
// configured finality tier to its RPC block tag. FinalityLatest serves
// the chain tip as "finalized" for dev chains without finality tags.
func (p *Provider) GetFinalizedHead(ctx context.Context) (cursor.Cursor, error) {
	var tag *big.Int
	switch p.finality {
	case indexertypes.FinalitySafe:
		tag = big.NewInt(int64(gethrpc.SafeBlockNumber))
	case indexertypes.FinalityLatest:
		tag = nil
	default:
		tag = big.NewInt(int64(gethrpc.FinalizedBlockNumber))
	}

	var header *types.Header
	err := p.call(ctx, "eth_getBlockByNumber", func() error {
		var fetchErr error
		header, fetchErr = p.eth.HeaderByNumber(ctx, tag)
		return classify(fetchErr)
	})
	if err != nil {
		return cursor.Cursor{}, err
	}
	return headerCursor(header), nil
}

// GetBlockByNumber implements provider.ChainProvider.
func (p *Provider) GetBlockByNumber(ctx context.Context, number uint64) (*record.Block, error) {
	var block *types.Block
	err := p.call(ctx, "eth_getBlockByNumber", func() error {
		var fetchErr error
		block, fetchErr = p.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		return classify(fetchErr)
	})
	if err != nil {
		return nil, err
	}
	return p.normalize(ctx, block)
}

// GetBlockByHash implements provider.ChainProvider.
func (p *Provider) GetBlockByHash(ctx context.Context, hash []byte) (*record.Block, error) {
	var block *types.Block
	err := p.call(ctx, "eth_getBlockByHash", func() error {
		var fetchErr error
		block, fetchErr = p.eth.BlockByHash(ctx, geth32(hash))
		return classify(fetchErr)
	})
	if err != nil {
		return nil, err
	}
	return p.normalize(ctx, block)
}

// normalize fetches receipts for every transaction in block and flattens
// the whole thing into the chain-agnostic record.Block shape.
func (p *Provider) normalize(ctx context.Context, block *types.Block) (*record.Block, error) {
	c := headerCursor(block.Header())

	txs := block.Transactions()
	transactions := make([]record.Transaction, len(txs))
	receipts := make([]record.Receipt, len(txs))
	var events []record.Event

	for i, tx := range txs {
		hash := tx.Hash()
		transactions[i] = record.Transaction{
			Cursor: c,
			Index:  uint32(i),
			Hash:   hash.Bytes(),
		}

		var receipt *types.Receipt
		err := p.call(ctx, "eth_getTransactionReceipt", func() error {
			var fetchErr error
			receipt, fetchErr = p.eth.TransactionReceipt(ctx, hash)
			return classify(fetchErr)
		})
		if err != nil {
			return nil, err
		}

		receipts[i] = record.Receipt{
			Cursor:          c,
			Index:           uint32(i),
			TransactionHash: hash.Bytes(),
		}

		for _, lg := range receipt.Logs {
			keys := make([][]byte, len(lg.Topics))
			for ti, topic := range lg.Topics {
				keys[ti] = topic.Bytes()
			}
			events = append(events, record.Event{
				Cursor:      c,
				Index:       uint32(len(events)),
				FromAddress: lg.Address.Bytes(),
				Keys:        keys,
				Data:        [][]byte{lg.Data},
			})
		}
	}

	return &record.Block{
		Cursor: c,
		Header: record.Header{
			Cursor:     c,
			ParentHash: block.ParentHash().Bytes(),
			Timestamp:  int64(block.Time()),
		},
		Transactions: transactions,
		Receipts:     receipts,
		Events:       events,
	}, nil
}

func headerCursor(h *types.Header) cursor.Cursor {
	return cursor.New(h.Number.Uint64(), h.Hash().Bytes())
}

func geth32(b []byte) (h [32]byte) {
	copy(h[32-len(b):], b)
	return h
}

// classify maps a go-ethereum error into the provider error taxonomy.
// go-ethereum doesn't expose a rich error-code type over JSON-RPC: a
// missing block surfaces as ethereum.NotFound, everything else is treated
// as transient and retried.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if err == goethereum.NotFound {
		return provider.NewError(provider.ClassNotFound, "evm", err)
	}
	return provider.NewError(provider.ClassTransient, "evm", err)
}
