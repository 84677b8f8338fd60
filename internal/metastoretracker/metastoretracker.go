// Package metastoretracker adapts pkg/metastore.MetaStore into the
// storagereader.Tracker and streamserver.FinalityProvider capabilities for
// a process that doesn't run its own chain tracker — cmd/stream-server
// reads whatever the ingestion process has already checkpointed rather
// than following the chain itself.
package metastoretracker

import (
	"context"
	"sync"
	"time"

	"github.com/goran-ethernal/chain-dna/internal/common"
	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/pkg/ingestmsg"
	"github.com/goran-ethernal/chain-dna/pkg/metastore"
	"github.com/goran-ethernal/chain-dna/pkg/record"
)

// Config tunes how often Tracker re-reads the MetaStore checkpoint.
type Config struct {
	PollInterval time.Duration
}

// DefaultConfig returns sensible poll pacing for a read-only process.
func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second}
}

// Tracker polls meta for the finality checkpoint the writer process last
// saved. It never holds an accepted-block ring: BlockAt always reports
// not-found, so a StorageReader backed by this Tracker only resolves
// blocks that have already reached a flushed segment. A split-process
// deployment (cmd/stream-server separate from cmd/indexer-node) therefore
// trades immediate visibility of accepted-but-unflushed blocks for
// horizontal read scaling; see DESIGN.md.
type Tracker struct {
	meta metastore.MetaStore
	log  *logger.Logger
	cfg  Config

	mu    sync.RWMutex
	state ingestmsg.FinalityState
}

// New builds a Tracker polling meta.
func New(meta metastore.MetaStore, cfg Config, log *logger.Logger) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Tracker{meta: meta, cfg: cfg, log: log.WithComponent(common.ComponentMetaTracker)}
}

// Run polls meta on cfg.PollInterval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.refresh(ctx); err != nil {
		t.log.Warnw("initial checkpoint read failed", "error", err)
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.refresh(ctx); err != nil {
				t.log.Warnw("checkpoint refresh failed", "error", err)
			}
		}
	}
}

func (t *Tracker) refresh(ctx context.Context) error {
	checkpoint, err := t.meta.LoadCheckpoint(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.state = ingestmsg.FinalityState{
		FinalizedCursor: checkpoint.FinalizedCursor,
		AcceptedCursor:  checkpoint.AcceptedCursor,
		HasFinalized:    !checkpoint.FinalizedCursor.IsOpen(),
		HasAccepted:     !checkpoint.AcceptedCursor.IsOpen(),
	}
	t.mu.Unlock()
	return nil
}

// Current implements storagereader.Tracker and streamserver.FinalityProvider.
func (t *Tracker) Current() ingestmsg.FinalityState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// BlockAt always reports not-found: this Tracker never holds an in-memory
// accepted-block ring, since the process it runs in doesn't follow the
// chain itself.
func (t *Tracker) BlockAt(number uint64) (*record.Block, bool) {
	return nil, false
}
