// Package chaintracker implements the chain-following state machine: it
// advances a remote chain's head and finalized pointers, detects reorgs by
// walking an in-memory ring of recent accepted cursors, and publishes
// ordered ingestion messages over a pkg/ingestmsg.Hub.
package chaintracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goran-ethernal/chain-dna/internal/common"
	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/internal/metrics"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/ingestion"
	"github.com/goran-ethernal/chain-dna/pkg/ingestmsg"
	"github.com/goran-ethernal/chain-dna/pkg/metastore"
	"github.com/goran-ethernal/chain-dna/pkg/provider"
	"github.com/goran-ethernal/chain-dna/pkg/record"
)

// State names the tracker's position in its state machine.
type State int

const (
	StateInitializing State = iota
	StateFollowing
	StateReorganizing
	StateFatalDivergence
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateFollowing:
		return "following"
	case StateReorganizing:
		return "reorganizing"
	case StateFatalDivergence:
		return "fatal_divergence"
	default:
		return "unknown"
	}
}

// ErrReorgPastFinality is fatal: the provider reported a divergence at or
// below the already-finalized cursor, which should never happen for a
// trusted provider.
var ErrReorgPastFinality = errors.New("chaintracker: reorg past finality")

// Config tunes a Tracker.
type Config struct {
	// ChainName labels this tracker's metrics (e.g. "evm", "starknet").
	ChainName string
	// RingSize defaults to 64. The ring is not bounded by it: every
	// accepted block stays in the ring until Prune removes it.
	RingSize int
	// PollInterval is the delay between head/finalized polls when there is
	// no new work. Default 2s.
	PollInterval time.Duration
	// Retry parameterizes the backoff applied to provider head/finalized
	// polls. Default: initial 10s, multiplier 2, cap 5min.
	Retry provider.BackoffConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RingSize:     64,
		PollInterval: 2 * time.Second,
		Retry: provider.BackoffConfig{
			InitialInterval: 10 * time.Second,
			MaxInterval:     5 * time.Minute,
			Multiplier:      2,
			MaxElapsedTime:  0,
		},
	}
}

type ringEntry struct {
	block *record.Block
}

// Tracker is the chain-following state machine.
type Tracker struct {
	chainProvider provider.ChainProvider
	ingestor      *ingestion.Ingestor
	meta          metastore.MetaStore
	hub           *ingestmsg.Hub
	log           *logger.Logger
	cfg           Config

	mu           sync.RWMutex
	state        State
	ring         map[uint64]ringEntry
	ringMin      uint64
	hasLocal     bool
	hasFinalized bool
	localHead    cursor.Cursor
	finalized    cursor.Cursor
	accepted     cursor.Cursor
}

// New builds a Tracker. chainProvider and ingestor must talk to the same
// chain; ingestor is used for every block fetch so concurrency/rate
// limiting applies uniformly to catch-up and reorg walk-back alike.
func New(chainProvider provider.ChainProvider, ingestor *ingestion.Ingestor, meta metastore.MetaStore, hub *ingestmsg.Hub, log *logger.Logger, cfg Config) *Tracker {
	if cfg.RingSize <= 0 {
		cfg.RingSize = DefaultConfig().RingSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ChainName == "" {
		cfg.ChainName = "chain"
	}
	return &Tracker{
		chainProvider: chainProvider,
		ingestor:      ingestor,
		meta:          meta,
		hub:           hub,
		log:           log.WithComponent(common.ComponentChainTracker),
		cfg:           cfg,
		state:         StateInitializing,
		ring:          make(map[uint64]ringEntry),
	}
}

// Subscribe registers a new IngestionMessage receiver.
func (t *Tracker) Subscribe() (<-chan ingestmsg.Message, func()) {
	return t.hub.Subscribe()
}

// Current returns the tracker's current FinalityState.
func (t *Tracker) Current() ingestmsg.FinalityState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return ingestmsg.FinalityState{
		FinalizedCursor: t.finalized,
		AcceptedCursor:  t.accepted,
		HasFinalized:    t.hasFinalized,
		HasAccepted:     t.hasLocal,
	}
}

// State reports the tracker's current state-machine position.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// BlockAt returns the in-memory accepted-ring record for number, if still
// held. StorageReader falls back to this for any block not yet resolved
// from a flushed segment.
func (t *Tracker) BlockAt(number uint64) (*record.Block, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.ring[number]
	if !ok {
		return nil, false
	}
	return e.block, true
}

// Prune discards ring entries below upTo. Called by the segment pipeline
// once their blocks are durably flushed into a segment, so the ring only
// ever needs to retain blocks back to the oldest unflushed boundary rather
// than the entire chain history. No cfg.RingSize floor applies: every
// entry below upTo is removed.
func (t *Tracker) Prune(upTo uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for n := t.ringMin; n < upTo; n++ {
		delete(t.ring, n)
	}
	if upTo > t.ringMin {
		t.ringMin = upTo
	}
}

// Run executes the poll loop until ctx is cancelled or a fatal error
// occurs (ErrReorgPastFinality, a malformed block, or a permanent provider
// error). from, if non-nil, overrides the checkpointed starting point.
func (t *Tracker) Run(ctx context.Context, from *cursor.Cursor) error {
	if err := t.init(ctx, from); err != nil {
		return err
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := t.tick(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Tracker) init(ctx context.Context, from *cursor.Cursor) error {
	if from != nil {
		t.mu.Lock()
		t.localHead = *from
		t.hasLocal = !from.IsOpen()
		t.accepted = *from
		t.mu.Unlock()
		return nil
	}

	checkpoint, err := t.meta.LoadCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("chaintracker: loading checkpoint: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !checkpoint.AcceptedCursor.IsOpen() {
		t.localHead = checkpoint.AcceptedCursor
		t.hasLocal = true
		t.accepted = checkpoint.AcceptedCursor
	}
	if !checkpoint.FinalizedCursor.IsOpen() {
		t.finalized = checkpoint.FinalizedCursor
		t.hasFinalized = true
	}
	return nil
}

// tick runs one poll cycle: advance the accepted head by at most one block
// (or enter a reorg walk-back), then advance the finalized pointer.
func (t *Tracker) tick(ctx context.Context) error {
	var head, finalizedHead cursor.Cursor
	err := provider.Retry(ctx, t.cfg.Retry, func() error {
		var fetchErr error
		head, fetchErr = t.chainProvider.GetHead(ctx)
		return fetchErr
	})
	if err != nil {
		return fmt.Errorf("chaintracker: fetching head: %w", err)
	}
	err = provider.Retry(ctx, t.cfg.Retry, func() error {
		var fetchErr error
		finalizedHead, fetchErr = t.chainProvider.GetFinalizedHead(ctx)
		return fetchErr
	})
	if err != nil {
		return fmt.Errorf("chaintracker: fetching finalized head: %w", err)
	}

	// A successful head/finalized fetch pair is what moves the tracker out
	// of Initializing, whether or not the head advances this tick: a
	// tracker restarted at the remote tip is Following from its first poll.
	t.setState(StateFollowing)

	t.mu.RLock()
	localNumber := t.localHead.Number
	hasLocal := t.hasLocal
	t.mu.RUnlock()

	if !hasLocal || head.Number > localNumber {
		if err := t.advanceOne(ctx, localNumber, hasLocal); err != nil {
			return err
		}
		metrics.HeadCursorSet("accepted", t.mustAccepted().Number)
	}

	t.mu.RLock()
	finalizedNumber := t.finalized.Number
	hasFinalized := t.hasFinalized
	t.mu.RUnlock()

	if !hasFinalized || finalizedHead.Number > finalizedNumber {
		t.mu.Lock()
		t.finalized = finalizedHead
		t.hasFinalized = true
		accepted := t.accepted
		t.mu.Unlock()

		t.hub.Publish(ingestmsg.Message{Kind: ingestmsg.Finalized, Cursor: finalizedHead})
		metrics.HeadCursorSet("finalized", finalizedHead.Number)
		if err := t.meta.SaveFinality(ctx, finalizedHead, accepted); err != nil {
			t.log.Warnw("failed to checkpoint finality", "error", err)
		}
	}

	return nil
}

func (t *Tracker) mustAccepted() cursor.Cursor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.accepted
}

// advanceOne fetches the next expected block and either appends it to the
// ring (parent hash matches) or enters a reorg walk-back (it doesn't).
func (t *Tracker) advanceOne(ctx context.Context, localNumber uint64, hasLocal bool) error {
	next := localNumber + 1
	if !hasLocal {
		next = localNumber
	}

	block, err := t.ingestor.FetchByNumber(ctx, next)
	if err != nil {
		return fmt.Errorf("chaintracker: fetching block %d: %w", next, err)
	}

	if hasLocal {
		t.mu.RLock()
		localHash := t.localHead.Hash
		t.mu.RUnlock()
		if !bytes.Equal(block.Header.ParentHash, localHash) {
			return t.reorg(ctx, next)
		}
	}

	t.mu.Lock()
	t.ring[block.Cursor.Number] = ringEntry{block: block}
	if _, ok := t.ring[t.ringMin]; !ok && len(t.ring) == 1 {
		t.ringMin = block.Cursor.Number
	}
	t.localHead = block.Cursor
	t.hasLocal = true
	t.accepted = block.Cursor
	t.mu.Unlock()

	t.hub.Publish(ingestmsg.Message{Kind: ingestmsg.Accepted, Cursor: block.Cursor})
	metrics.BlocksIngestedInc(t.cfg.ChainName, 1)
	return nil
}

// reorg walks backward from the local head to the first (highest) height n
// where the provider's block and the ring's block agree on hash. Every
// ring entry above n is invalidated (in descending order) and discarded;
// the caller's next tick naturally re-fetches from n+1.
func (t *Tracker) reorg(ctx context.Context, attemptedNext uint64) error {
	t.setState(StateReorganizing)
	metrics.ReorgsDetectedInc(t.cfg.ChainName)

	t.mu.RLock()
	localHead := t.localHead.Number
	finalizedNumber := t.finalized.Number
	t.mu.RUnlock()

	n := localHead
	for {
		if n <= finalizedNumber {
			t.setState(StateFatalDivergence)
			return ErrReorgPastFinality
		}

		providerBlock, err := t.ingestor.FetchByNumber(ctx, n)
		if err != nil {
			return fmt.Errorf("chaintracker: reorg walk-back fetching %d: %w", n, err)
		}

		t.mu.RLock()
		entry, ok := t.ring[n]
		t.mu.RUnlock()

		if ok && bytes.Equal(providerBlock.Cursor.Hash, entry.block.Cursor.Hash) {
			break
		}
		n--
	}

	t.mu.Lock()
	var invalidated []cursor.Cursor
	for num := localHead; num > n; num-- {
		if entry, ok := t.ring[num]; ok {
			invalidated = append(invalidated, entry.block.Cursor)
			delete(t.ring, num)
		}
	}
	divergenceEntry := t.ring[n]
	t.localHead = divergenceEntry.block.Cursor
	t.accepted = divergenceEntry.block.Cursor
	t.mu.Unlock()

	for _, c := range invalidated {
		t.hub.Publish(ingestmsg.Message{Kind: ingestmsg.Invalidated, Cursor: c})
	}

	t.log.Infow("reorg resolved", "divergence_height", n, "invalidated", len(invalidated), "attempted_next", attemptedNext)
	t.setState(StateFollowing)
	return nil
}

func (t *Tracker) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	metrics.ComponentHealthSet(common.ComponentChainTracker, s == StateFollowing || s == StateInitializing)
}
