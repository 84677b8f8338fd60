// Package bitmapindex implements the per-segment secondary index: a
// mapping from an indexed field's byte-string key to a roaring bitmap of
// block-indexes-within-segment that produced it.
package bitmapindex

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Index maps hex-encoded keys to the set of block-indexes-within-segment
// (or, at the group level, block-offsets-within-group) where that key
// occurred. Keys are stored hex-encoded so the type is trivially
// gob-encodable without a custom codec.
type Index struct {
	mu      sync.RWMutex
	byKeyHx map[string]*roaring.Bitmap
}

// New returns an empty Index.
func New() *Index {
	return &Index{byKeyHx: make(map[string]*roaring.Bitmap)}
}

// Add records that key occurred at position (a block index within a
// segment, or a block offset within a group).
func (idx *Index) Add(key []byte, position uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := hex.EncodeToString(key)
	bm, ok := idx.byKeyHx[k]
	if !ok {
		bm = roaring.New()
		idx.byKeyHx[k] = bm
	}
	bm.Add(position)
}

// Lookup returns the sorted positions recorded for key.
func (idx *Index) Lookup(key []byte) []uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	bm, ok := idx.byKeyHx[hex.EncodeToString(key)]
	if !ok {
		return nil
	}
	return bm.ToArray()
}

// Keys returns every key currently present, sorted by hex encoding for
// determinism.
func (idx *Index) Keys() [][]byte {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	hexKeys := make([]string, 0, len(idx.byKeyHx))
	for k := range idx.byKeyHx {
		hexKeys = append(hexKeys, k)
	}
	sort.Strings(hexKeys)
	out := make([][]byte, 0, len(hexKeys))
	for _, hk := range hexKeys {
		b, err := hex.DecodeString(hk)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Merge ORs other's bitmaps into idx, key by key, in place, without
// shifting positions. SegmentGroupBuilder does not use it: it shifts each
// segment's positions into group offsets with its own mergeShifted.
func (idx *Index) Merge(other *Index) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for k, bm := range other.byKeyHx {
		existing, ok := idx.byKeyHx[k]
		if !ok {
			existing = roaring.New()
			idx.byKeyHx[k] = existing
		}
		existing.Or(bm)
	}
}

// gobIndex is the on-the-wire shape for gob encode/decode: roaring bitmaps
// serialize themselves to bytes, so the Index's internal *roaring.Bitmap
// values are flattened to []byte before handing off to gob.
type gobIndex struct {
	Keys   []string
	Bitmap [][]byte
}

// MarshalBinary implements encoding.BinaryMarshaler so Index is directly
// gob-encodable despite holding unexported roaring.Bitmap pointers.
func (idx *Index) MarshalBinary() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	keys := make([]string, 0, len(idx.byKeyHx))
	for k := range idx.byKeyHx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	g := gobIndex{Keys: keys, Bitmap: make([][]byte, 0, len(keys))}
	for _, k := range keys {
		b, err := idx.byKeyHx[k].ToBytes()
		if err != nil {
			return nil, err
		}
		g.Bitmap = append(g.Bitmap, b)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (idx *Index) UnmarshalBinary(data []byte) error {
	var g gobIndex
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byKeyHx = make(map[string]*roaring.Bitmap, len(g.Keys))
	for i, k := range g.Keys {
		bm := roaring.New()
		if err := bm.UnmarshalBinary(g.Bitmap[i]); err != nil {
			return err
		}
		idx.byKeyHx[k] = bm
	}
	return nil
}
