package streamserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/pkg/blobstore"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/filter"
	"github.com/goran-ethernal/chain-dna/pkg/ingestmsg"
	"github.com/goran-ethernal/chain-dna/pkg/stream"
	"github.com/stretchr/testify/require"
)

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{data: make(map[string][]byte)} }

func (m *memBlobs) Put(ctx context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = data
	return nil
}
func (m *memBlobs) Get(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[name]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return d, nil
}
func (m *memBlobs) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names, nil
}
func (m *memBlobs) Close() error { return nil }

type fakeFinality struct {
	state ingestmsg.FinalityState
}

func (f *fakeFinality) Current() ingestmsg.FinalityState { return f.state }

type fakeResolver struct {
	blocks map[uint64]cursor.Cursor
}

func (f *fakeResolver) CanonicalBlockID(ctx context.Context, number uint64) (cursor.Cursor, bool, error) {
	c, ok := f.blocks[number]
	return c, ok, nil
}

func newTestServer(blobs *memBlobs, fin *fakeFinality, resolver *fakeResolver) *Server {
	return New(Config{BindAddr: ":0"}, fin, blobs, resolver, logger.NewNopLogger())
}

func TestHandleFinality(t *testing.T) {
	fin := &fakeFinality{state: ingestmsg.FinalityState{
		FinalizedCursor: cursor.New(10, []byte{0x0A}),
		AcceptedCursor:  cursor.New(12, []byte{0x0C}),
		HasFinalized:    true,
		HasAccepted:     true,
	}}
	s := newTestServer(newMemBlobs(), fin, &fakeResolver{})

	rec := httptest.NewRecorder()
	s.handleFinality(rec, httptest.NewRequest(http.MethodGet, "/v1/finality", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "#10(0x0a)", body["finalized"])
	require.Equal(t, "#12(0x0c)", body["accepted"])
}

func TestHandleFinalityBeforeFirstBlock(t *testing.T) {
	s := newTestServer(newMemBlobs(), &fakeFinality{}, &fakeResolver{})

	rec := httptest.NewRecorder()
	s.handleFinality(rec, httptest.NewRequest(http.MethodGet, "/v1/finality", nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Nil(t, body["finalized"])
	require.Nil(t, body["accepted"])
}

func TestHandleSegmentsAndGroups(t *testing.T) {
	blobs := newMemBlobs()
	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, "segment/header/000000000000", []byte{1}))
	require.NoError(t, blobs.Put(ctx, "segment/header/000000000004", []byte{1}))
	require.NoError(t, blobs.Put(ctx, "segment/event/000000000000", []byte{1}))
	require.NoError(t, blobs.Put(ctx, "group/000000000000", []byte{1}))

	s := newTestServer(blobs, &fakeFinality{}, &fakeResolver{})

	rec := httptest.NewRecorder()
	s.handleSegments(rec, httptest.NewRequest(http.MethodGet, "/v1/segments", nil))
	var segs map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &segs))
	require.Equal(t, []string{"segment/header/000000000000", "segment/header/000000000004"}, segs["segments"])

	rec = httptest.NewRecorder()
	s.handleGroups(rec, httptest.NewRequest(http.MethodGet, "/v1/groups", nil))
	var groups map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Equal(t, []string{"group/000000000000"}, groups["groups"])
}

func TestHandleBlock(t *testing.T) {
	resolver := &fakeResolver{blocks: map[uint64]cursor.Cursor{7: cursor.New(7, []byte{0x07})}}
	s := newTestServer(newMemBlobs(), &fakeFinality{}, resolver)

	rec := httptest.NewRecorder()
	s.handleBlock(rec, httptest.NewRequest(http.MethodGet, "/v1/blocks/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "#7(0x07)", body["cursor"])

	rec = httptest.NewRecorder()
	s.handleBlock(rec, httptest.NewRequest(http.MethodGet, "/v1/blocks/8", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.handleBlock(rec, httptest.NewRequest(http.MethodGet, "/v1/blocks/not-a-number", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterAndUnregisterStreams(t *testing.T) {
	resolver := &fakeResolver{}
	s := newTestServer(newMemBlobs(), &fakeFinality{}, resolver)

	st := stream.New(42, resolver, nil, ingestmsg.NewHub(), ingestmsg.FinalityState{},
		stream.Request{Finality: filter.DataFinalityFinalized}, stream.Config{}, logger.NewNopLogger())
	defer st.Close()

	s.Register(st)
	rec := httptest.NewRecorder()
	s.handleStreams(rec, httptest.NewRequest(http.MethodGet, "/v1/streams", nil))
	var body map[string][]uint64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []uint64{42}, body["streams"])

	s.Unregister(st)
	rec = httptest.NewRecorder()
	s.handleStreams(rec, httptest.NewRequest(http.MethodGet, "/v1/streams", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body["streams"])
}
