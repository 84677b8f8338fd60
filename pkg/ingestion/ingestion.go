// Package ingestion fetches single blocks from a ChainProvider under
// bounded concurrency and a token-bucket rate limit. The provider
// implementations (internal/evmprovider, internal/starknetprovider)
// already fetch a block's transactions/receipts/events internally and hand
// back a fully-normalized record.Block; this package's job is the
// concurrency and pacing discipline around calling into that provider.
package ingestion

import (
	"context"
	"fmt"

	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/provider"
	"github.com/goran-ethernal/chain-dna/pkg/record"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config tunes an Ingestor's concurrency and pacing.
type Config struct {
	// Concurrency bounds the number of in-flight provider fetches. Default 100.
	Concurrency int64
	// RateLimit bounds fetches per second. Default 1000.
	RateLimit float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Concurrency: 100, RateLimit: 1000}
}

// Ingestor pulls individual blocks from a ChainProvider under bounded
// concurrency and rate limiting.
type Ingestor struct {
	provider provider.ChainProvider
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
}

// New builds an Ingestor fetching through p.
func New(p provider.ChainProvider, cfg Config) *Ingestor {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConfig().Concurrency
	}
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = DefaultConfig().RateLimit
	}
	return &Ingestor{
		provider: p,
		sem:      semaphore.NewWeighted(concurrency),
		limiter:  rate.NewLimiter(rate.Limit(rateLimit), int(concurrency)),
	}
}

// acquire blocks until both the rate limiter and the concurrency semaphore
// admit one more in-flight fetch, or ctx is cancelled.
func (g *Ingestor) acquire(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.sem.Release(1)
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}

// FetchByNumber fetches and normalizes the block at number. Every part of
// the block (header, transactions, receipts, events, messages) is present
// in the returned record.Block, or an error is returned — the block is
// never emitted partially filled.
func (g *Ingestor) FetchByNumber(ctx context.Context, number uint64) (*record.Block, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingestion: acquiring slot for block %d: %w", number, err)
	}
	defer release()

	block, err := g.provider.GetBlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if block.Cursor.Number != number {
		return nil, provider.NewError(provider.ClassMalformed, "ingestion",
			fmt.Errorf("provider returned block %d for request %d", block.Cursor.Number, number))
	}
	return block, nil
}

// FetchByCursor fetches and normalizes the block identified by hash,
// verifying the returned cursor matches exactly (number and hash) —
// guarding against a malformed or stale provider response.
func (g *Ingestor) FetchByCursor(ctx context.Context, c cursor.Cursor) (*record.Block, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingestion: acquiring slot for %s: %w", c, err)
	}
	defer release()

	block, err := g.provider.GetBlockByHash(ctx, c.Hash)
	if err != nil {
		return nil, err
	}
	if !block.Cursor.Equal(c) {
		return nil, provider.NewError(provider.ClassMalformed, "ingestion",
			fmt.Errorf("provider returned %s for requested %s", block.Cursor, c))
	}
	return block, nil
}

// FetchRange fetches blocks [from, to] (inclusive) concurrently, bounded by
// the Ingestor's semaphore/rate limiter, and returns them in ascending
// order. ChainTracker does not call it: it fetches one block per tick
// with FetchByNumber.
func (g *Ingestor) FetchRange(ctx context.Context, from, to uint64) ([]*record.Block, error) {
	if to < from {
		return nil, fmt.Errorf("ingestion: invalid range [%d,%d]", from, to)
	}
	count := int(to-from) + 1
	blocks := make([]*record.Block, count)

	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		i := i
		number := from + uint64(i)
		group.Go(func() error {
			block, err := g.FetchByNumber(gctx, number)
			if err != nil {
				return err
			}
			blocks[i] = block
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}
