// Package stream implements the per-subscriber filtered data stream: a
// cursor-driven reader that merges historical segment-based reads with
// live ingestion notifications, applies the subscriber's filter, batches
// finalized data, and emits single-block updates for accepted data. Many
// independently-reconfigurable subscribers fan out from pkg/ingestmsg.Hub.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goran-ethernal/chain-dna/internal/common"
	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/internal/metrics"
	"github.com/goran-ethernal/chain-dna/pkg/blobstore"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/filter"
	"github.com/goran-ethernal/chain-dna/pkg/ingestmsg"
	"github.com/goran-ethernal/chain-dna/pkg/segment"
)

// DefaultBatchSize is used when a StreamConfiguration leaves BatchSize
// unset.
const DefaultBatchSize uint32 = 100

// StorageReader is the subset of storagereader.Reader this package
// consumes: resolving a block number to its canonical cursor. Declared
// locally rather than importing pkg/storagereader so the storage and
// stream layers stay decoupled.
type StorageReader interface {
	CanonicalBlockID(ctx context.Context, number uint64) (cursor.Cursor, bool, error)
}

// SegmentIndexReader optionally lets a Stream short-circuit filter
// evaluation via the secondary index. Passing a nil SegmentIndexReader to
// New disables the optimization; correctness doesn't depend on it.
type SegmentIndexReader interface {
	SegmentIndex(ctx context.Context, firstBlock uint64) (*segment.Index, error)
}

// ResponseKind tags which variant a Response carries.
type ResponseKind int

const (
	ResponseData ResponseKind = iota
	ResponseInvalidate
)

// DataResponse is one batch (finalized) or single block (accepted) of
// filtered data.
type DataResponse struct {
	// Cursor is the exclusive lower bound of this batch: the client's
	// previous EndCursor (or the zero Cursor for the very first batch).
	Cursor cursor.Cursor
	// EndCursor is the last block number included in this batch
	// (inclusive), whether or not it matched the filter.
	EndCursor cursor.Cursor
	Finality  filter.DataFinality
	Payloads  []filter.EncodedData
}

// InvalidateResponse tells the subscriber that Cursor (previously
// delivered in an Accepted batch) has been rolled back by a reorg.
type InvalidateResponse struct {
	Cursor cursor.Cursor
}

// Response is the tagged union Stream.Next returns.
type Response struct {
	Kind       ResponseKind
	Data       *DataResponse
	Invalidate *InvalidateResponse
}

// Request is the subscriber's initial wire request.
type Request struct {
	StartingCursor cursor.Cursor
	Filter         filter.Filter
	Finality       filter.DataFinality
	BatchSize      uint32
}

// Config tunes a Stream's understanding of the underlying segment layout,
// needed only for the optional index short-circuit.
type Config struct {
	SegmentSize uint32
}

// Stream holds one subscriber's state and drives its advance algorithm.
type Stream struct {
	id      uint64
	storage StorageReader
	segIdx  SegmentIndexReader
	cfg     Config
	log     *logger.Logger

	msgCh      <-chan ingestmsg.Message
	unregister func()
	wakeCh     chan struct{}

	mu                 sync.Mutex
	streamCfg          filter.StreamConfiguration
	cursorVal          cursor.Cursor
	hasCursor          bool
	finalized          cursor.Cursor
	hasFinalized       bool
	accepted           cursor.Cursor
	hasAccepted        bool
	pendingInvalidates []InvalidateResponse
	closed             bool
}

// New builds a Stream subscribed to hub, seeded with the tracker's
// finality snapshot at creation time and req's starting position/filter.
func New(id uint64, storage StorageReader, segIdx SegmentIndexReader, hub *ingestmsg.Hub, initial ingestmsg.FinalityState, req Request, cfg Config, log *logger.Logger) *Stream {
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	msgCh, unregister := hub.Subscribe()

	s := &Stream{
		id:      id,
		storage: storage,
		segIdx:  segIdx,
		cfg:     cfg,
		log:     log.WithComponent(common.ComponentFilteredStream),

		msgCh:      msgCh,
		unregister: unregister,
		wakeCh:     make(chan struct{}, 1),

		streamCfg: filter.StreamConfiguration{
			Finality:  req.Finality,
			Filter:    req.Filter,
			BatchSize: batchSize,
		},
		finalized:    initial.FinalizedCursor,
		hasFinalized: initial.HasFinalized,
		accepted:     initial.AcceptedCursor,
		hasAccepted:  initial.HasAccepted,
	}
	if req.StartingCursor.Number > 0 || !req.StartingCursor.IsOpen() {
		s.cursorVal = req.StartingCursor
		s.hasCursor = true
	}
	return s
}

// ID identifies this stream for diagnostics.
func (s *Stream) ID() uint64 { return s.id }

// Pump drains ingestion messages into the stream's state until ctx is
// cancelled or the hub unregisters it. Run this in its own goroutine
// alongside Next.
func (s *Stream) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.msgCh:
			if !ok {
				return
			}
			s.handleMessage(msg)
		}
	}
}

// Close unregisters the stream from its hub. Dropping the receive handle
// (via unregister) ends Pump within one polling cycle.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.unregister()
}

// Reconfigure updates the stream's filter/finality/batch size. It resets
// the iteration cursor (the stream starts scanning again from the
// beginning) while preserving the already-resolved finalized/accepted
// cursors observed so far this session.
func (s *Stream) Reconfigure(cfg filter.StreamConfiguration) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	s.mu.Lock()
	s.streamCfg = cfg
	s.cursorVal = cursor.Cursor{}
	s.hasCursor = false
	s.pendingInvalidates = nil
	s.mu.Unlock()
	s.wake()
}

func (s *Stream) handleMessage(msg ingestmsg.Message) {
	s.mu.Lock()
	switch msg.Kind {
	case ingestmsg.Accepted:
		if !s.hasAccepted || msg.Cursor.Number > s.accepted.Number {
			s.accepted = msg.Cursor
			s.hasAccepted = true
		}
	case ingestmsg.Finalized:
		if !s.hasFinalized || msg.Cursor.Number > s.finalized.Number {
			s.finalized = msg.Cursor
			s.hasFinalized = true
		}
	case ingestmsg.Invalidated:
		if s.hasCursor && msg.Cursor.Number <= s.cursorVal.Number {
			s.pendingInvalidates = append(s.pendingInvalidates, InvalidateResponse{Cursor: msg.Cursor})
			if msg.Cursor.Number == 0 {
				s.cursorVal = cursor.Cursor{}
				s.hasCursor = false
			} else {
				s.cursorVal = cursor.AtHeight(msg.Cursor.Number - 1)
				s.hasCursor = true
			}
		}
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Stream) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Next blocks until the next Response is available or ctx is cancelled.
func (s *Stream) Next(ctx context.Context) (Response, error) {
	for {
		resp, emit, progressed, err := s.tryAdvance(ctx)
		if err != nil {
			return Response{}, err
		}
		if emit {
			return resp, nil
		}
		if progressed {
			continue
		}
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-s.wakeCh:
		}
	}
}

// tryAdvance runs one pass of the advance algorithm. progressed
// reports that stream state moved forward even though nothing should be
// emitted yet (e.g. an unmatched accepted block), so Next should retry
// immediately rather than waiting for a new ingestion message.
func (s *Stream) tryAdvance(ctx context.Context) (resp Response, emit bool, progressed bool, err error) {
	s.mu.Lock()
	if len(s.pendingInvalidates) > 0 {
		inv := s.pendingInvalidates[0]
		s.pendingInvalidates = s.pendingInvalidates[1:]
		s.mu.Unlock()
		return Response{Kind: ResponseInvalidate, Invalidate: &inv}, true, false, nil
	}
	cfg := s.streamCfg
	prevCursor := s.cursorVal
	hasPrev := s.hasCursor
	finalized := s.finalized
	hasFinalized := s.hasFinalized
	accepted := s.accepted
	hasAccepted := s.hasAccepted
	s.mu.Unlock()

	next := uint64(0)
	if hasPrev {
		next = prevCursor.Number + 1
	}

	candidate, ok, err := s.storage.CanonicalBlockID(ctx, next)
	if err != nil {
		return Response{}, false, false, fmt.Errorf("stream: resolving block %d: %w", next, err)
	}
	if !ok {
		return Response{}, false, false, nil
	}

	if hasFinalized && next <= finalized.Number {
		data, endCursor, ferr := s.scanFinalizedBatch(ctx, cfg, next, finalized.Number)
		if ferr != nil {
			return Response{}, false, false, ferr
		}
		s.mu.Lock()
		s.cursorVal = endCursor
		s.hasCursor = true
		s.mu.Unlock()
		metrics.BatchesSentInc("finalized")
		return Response{Kind: ResponseData, Data: &DataResponse{
			Cursor: prevCursor, EndCursor: endCursor, Finality: filter.DataFinalityFinalized, Payloads: data,
		}}, true, false, nil
	}

	if (cfg.Finality == filter.DataFinalityAccepted || cfg.Finality == filter.DataFinalityPending) && hasAccepted && next <= accepted.Number {
		encoded, matched, ferr := cfg.Filter.DataForBlock(candidate)
		if ferr != nil {
			return Response{}, false, false, ferr
		}
		s.mu.Lock()
		s.cursorVal = candidate
		s.hasCursor = true
		s.mu.Unlock()
		if !matched {
			return Response{}, false, true, nil
		}
		metrics.BatchesSentInc("accepted")
		return Response{Kind: ResponseData, Data: &DataResponse{
			Cursor: prevCursor, EndCursor: candidate, Finality: filter.DataFinalityAccepted,
			Payloads: []filter.EncodedData{encoded},
		}}, true, false, nil
	}

	return Response{}, false, false, nil
}

// scanFinalizedBatch walks forward from `next`, applying cfg.Filter to
// each resolvable block, stopping at whichever of batch-size-scanned /
// next-block-unknown / finalized-boundary-crossed comes first. BatchSize
// bounds the number of blocks scanned, not the number of filter matches:
// a sparse filter still splits a long range into BatchSize-block Data
// responses so the client's cursor advances at a steady cadence.
func (s *Stream) scanFinalizedBatch(ctx context.Context, cfg filter.StreamConfiguration, next, finalizedNumber uint64) ([]filter.EncodedData, cursor.Cursor, error) {
	var data []filter.EncodedData
	var lastScanned cursor.Cursor
	n := next
	var idxCache segmentIndexCache
	iaf, indexAware := cfg.Filter.(filter.IndexAwareFilter)

	for n-next < uint64(cfg.BatchSize) {
		if n > finalizedNumber {
			break
		}
		candidate, ok, err := s.storage.CanonicalBlockID(ctx, n)
		if err != nil {
			return nil, cursor.Cursor{}, fmt.Errorf("stream: resolving block %d: %w", n, err)
		}
		if !ok {
			break
		}

		skip := false
		if indexAware && s.segIdx != nil && s.cfg.SegmentSize > 0 {
			offsets, err := s.segmentOffsets(ctx, iaf, n, &idxCache)
			if err != nil {
				return nil, cursor.Cursor{}, err
			}
			if offsets != nil {
				segFirst := (n / uint64(s.cfg.SegmentSize)) * uint64(s.cfg.SegmentSize)
				if _, present := offsets[uint32(n-segFirst)]; !present {
					skip = true
				}
			}
		}

		if !skip {
			encoded, matched, err := cfg.Filter.DataForBlock(candidate)
			if err != nil {
				return nil, cursor.Cursor{}, fmt.Errorf("stream: filtering block %d: %w", n, err)
			}
			if matched {
				data = append(data, encoded)
			}
		}
		lastScanned = candidate
		n++
	}
	return data, lastScanned, nil
}

// segmentIndexCache memoizes the single segment index lookup a finalized
// batch walk needs per segment boundary it crosses.
type segmentIndexCache struct {
	loaded   bool
	segFirst uint64
	offsets  map[uint32]struct{}
}

// segmentOffsets returns the set of within-segment offsets the filter's
// indexed addresses/keys occur at, for the segment containing block n, or
// nil if the optimization doesn't apply (filter has no index keys, or the
// segment's index has not been flushed). Any other read error is returned.
func (s *Stream) segmentOffsets(ctx context.Context, iaf filter.IndexAwareFilter, n uint64, cache *segmentIndexCache) (map[uint32]struct{}, error) {
	segFirst := (n / uint64(s.cfg.SegmentSize)) * uint64(s.cfg.SegmentSize)
	if cache.loaded && cache.segFirst == segFirst {
		return cache.offsets, nil
	}

	addresses, keys0 := iaf.IndexKeys()
	if len(addresses) == 0 && len(keys0) == 0 {
		*cache = segmentIndexCache{loaded: true, segFirst: segFirst}
		return nil, nil
	}

	idx, err := s.segIdx.SegmentIndex(ctx, segFirst)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			*cache = segmentIndexCache{loaded: true, segFirst: segFirst}
			return nil, nil
		}
		return nil, fmt.Errorf("stream: reading segment index %d: %w", segFirst, err)
	}

	offsets := make(map[uint32]struct{})
	for _, a := range addresses {
		for _, pos := range idx.ByAddress.Lookup(a) {
			offsets[pos] = struct{}{}
		}
	}
	for _, k := range keys0 {
		for _, pos := range idx.ByKey0.Lookup(k) {
			offsets[pos] = struct{}{}
		}
	}
	*cache = segmentIndexCache{loaded: true, segFirst: segFirst, offsets: offsets}
	return offsets, nil
}
