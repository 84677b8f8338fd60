// Package streamserver exposes the HTTP diagnostic/administration surface:
// liveness, current finality, flushed-artifact listings, block-identity
// lookups, and active-subscriber visibility. Subscription creation itself
// stays an in-process Go API (pkg/stream.New).
package streamserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/goran-ethernal/chain-dna/internal/common"
	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/internal/metrics"
	"github.com/goran-ethernal/chain-dna/pkg/blobstore"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/ingestmsg"
	"github.com/goran-ethernal/chain-dna/pkg/stream"
)

// BlockResolver is the subset of storagereader.Reader this server needs to
// answer /v1/blocks/{number} canonical-identity lookups.
type BlockResolver interface {
	CanonicalBlockID(ctx context.Context, number uint64) (cursor.Cursor, bool, error)
}

// FinalityProvider is the subset of chaintracker.Tracker this server
// needs to report current finality.
type FinalityProvider interface {
	Current() ingestmsg.FinalityState
}

// Config tunes the server's HTTP listener.
type Config struct {
	BindAddr string
}

// Server is the diagnostic/administration HTTP surface.
type Server struct {
	cfg     Config
	tracker FinalityProvider
	blobs   blobstore.BlobStore
	reader  BlockResolver
	log     *logger.Logger
	httpSrv *http.Server

	mu      sync.Mutex
	streams map[uint64]*stream.Stream
}

// New builds a Server. Streams must be registered/unregistered by the
// caller (typically the subscription-accepting code path) via Register
// and Unregister as they're created and closed.
func New(cfg Config, tracker FinalityProvider, blobs blobstore.BlobStore, reader BlockResolver, log *logger.Logger) *Server {
	return &Server{
		cfg:     cfg,
		tracker: tracker,
		blobs:   blobs,
		reader:  reader,
		log:     log.WithComponent(common.ComponentStreamServer),
		streams: make(map[uint64]*stream.Stream),
	}
}

// Register records an active stream for /v1/streams reporting.
func (s *Server) Register(st *stream.Stream) {
	s.mu.Lock()
	s.streams[st.ID()] = st
	s.mu.Unlock()
	s.reportActiveStreams()
}

// Unregister removes a stream once it's closed.
func (s *Server) Unregister(st *stream.Stream) {
	s.mu.Lock()
	delete(s.streams, st.ID())
	s.mu.Unlock()
	s.reportActiveStreams()
}

func (s *Server) reportActiveStreams() {
	s.mu.Lock()
	n := len(s.streams)
	s.mu.Unlock()
	metrics.ActiveStreamsSet(n)
}

// Start begins serving HTTP in the background. It returns once the
// listener is bound; Stop (or ctx cancellation) tears it down.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/finality", s.handleFinality)
	mux.HandleFunc("/v1/segments", s.handleSegments)
	mux.HandleFunc("/v1/groups", s.handleGroups)
	mux.HandleFunc("/v1/streams", s.handleStreams)
	mux.HandleFunc("/v1/blocks/", s.handleBlock)
	mux.Handle("/swagger/", httpSwagger.WrapHandler)

	s.httpSrv = &http.Server{
		Addr:              s.cfg.BindAddr,
		Handler:           withMiddleware(mux, s.log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("streamserver: binding %s: %w", s.cfg.BindAddr, err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("stream server stopped unexpectedly", "error", err)
		}
	}()

	s.log.Infow("stream server listening", "bind_addr", s.cfg.BindAddr)
	return nil
}

// Stop shuts down the HTTP listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFinality(w http.ResponseWriter, r *http.Request) {
	fs := s.tracker.Current()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"finalized": cursorJSON(fs.FinalizedCursor, fs.HasFinalized),
		"accepted":  cursorJSON(fs.AcceptedCursor, fs.HasAccepted),
	})
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	names, err := s.blobs.List(r.Context(), "segment/header/")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"segments": names})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	names, err := s.blobs.List(r.Context(), "group/")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"groups": names})
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"streams": ids})
}

// handleBlock resolves GET /v1/blocks/{number} to that height's canonical
// cursor, choosing between a flushed segment and (where the caller is
// colocated with a live chain tracker) the accepted ring.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	numStr := strings.TrimPrefix(r.URL.Path, "/v1/blocks/")
	number, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid block number"})
		return
	}

	c, found, err := s.reader.CanonicalBlockID(r.Context(), number)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "block not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cursor": c.String()})
}

func cursorJSON(c interface{ String() string }, has bool) interface{} {
	if !has {
		return nil
	}
	return c.String()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withMiddleware wraps h with the request-logging/recovery/CORS chain.
func withMiddleware(h http.Handler, log *logger.Logger) http.Handler {
	return recoverMiddleware(corsMiddleware(loggingMiddleware(h, log)))
}

func loggingMiddleware(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debugw("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = fmt.Fprintf(w, `{"error":"internal error"}`)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
