// Package index builds and queries the in-memory map from blob id to
// (pack, offset, length) that the rest of the system resolves reads
// through, and holds the live indexer that buffers newly-written packs
// into index files.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/backendstack"
	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/debug"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// Variant picks what an Index keeps in memory, trading capability for
// footprint.
type Variant int

const (
	// Full keeps every blob of every kind.
	Full Variant = iota
	// FullTrees keeps only tree-kind blobs.
	FullTrees
	// DataIds keeps data-blob ids (presence only, no location) and full
	// tree entries.
	DataIds
)

// Entry is one blob's resolved location: which pack holds it, the
// ciphertext's offset and length inside that pack, and (if compressed)
// its plaintext length.
type Entry struct {
	Pack               ids.ID
	Offset             uint32
	Length             uint32
	UncompressedLength uint32
}

// byKind holds one kind's blobs as two parallel, id-sorted arrays so
// lookups are a binary search instead of a map's hash+probe.
type byKind struct {
	ids     []ids.ID
	entries []Entry
}

func (k *byKind) search(id ids.ID) (int, bool) {
	i := sort.Search(len(k.ids), func(i int) bool { return bytes.Compare(k.ids[i][:], id[:]) >= 0 })
	if i < len(k.ids) && k.ids[i] == id {
		return i, true
	}
	return i, false
}

func (k *byKind) insert(id ids.ID, e Entry) {
	i, found := k.search(id)
	if found {
		k.entries[i] = e
		return
	}
	k.ids = append(k.ids, ids.ID{})
	k.entries = append(k.entries, Entry{})
	copy(k.ids[i+1:], k.ids[i:])
	copy(k.entries[i+1:], k.entries[i:])
	k.ids[i] = id
	k.entries[i] = e
}

// Index is an immutable, binary-searchable map from (kind, id) to the
// blob's resolved pack location, built once from a repository's index
// files.
type Index struct {
	variant    Variant
	kinds      map[data.BlobKind]*byKind
	packSizes  map[ids.ID]uint32
	dataIdSeen map[ids.ID]bool // DataIds variant: presence only
}

// New builds an Index of the given variant from packs, deduplicating
// blobs by id (the last-seen IndexPack wins, matching index-file
// supersession: newer index files are expected later in packs).
func New(variant Variant, packs []data.IndexPack) *Index {
	idx := &Index{
		variant:    variant,
		kinds:      map[data.BlobKind]*byKind{data.DataBlob: {}, data.TreeBlob: {}},
		packSizes:  map[ids.ID]uint32{},
		dataIdSeen: map[ids.ID]bool{},
	}

	for _, p := range packs {
		idx.packSizes[p.ID] = p.Size
		for _, b := range p.Blobs {
			switch variant {
			case FullTrees:
				if b.Type != data.TreeBlob {
					continue
				}
			case DataIds:
				if b.Type == data.DataBlob {
					idx.dataIdSeen[b.ID] = true
					continue
				}
			}
			idx.kinds[b.Type].insert(b.ID, Entry{
				Pack:               p.ID,
				Offset:             b.Offset,
				Length:             b.Length,
				UncompressedLength: b.UncompressedLength,
			})
		}
	}
	return idx
}

// Has reports whether id is known for kind, in O(log n).
func (idx *Index) Has(kind data.BlobKind, id ids.ID) bool {
	if idx.variant == DataIds && kind == data.DataBlob {
		return idx.dataIdSeen[id]
	}
	_, found := idx.kinds[kind].search(id)
	return found
}

// Get returns the resolved location of (kind, id), or false if unknown.
// Under the DataIds variant, data blobs are known-present but carry no
// location; Get reports found=true with a zero Entry for those.
func (idx *Index) Get(kind data.BlobKind, id ids.ID) (Entry, bool) {
	if idx.variant == DataIds && kind == data.DataBlob {
		if idx.dataIdSeen[id] {
			return Entry{}, true
		}
		return Entry{}, false
	}
	i, found := idx.kinds[kind].search(id)
	if !found {
		return Entry{}, false
	}
	return idx.kinds[kind].entries[i], true
}

// TotalSize sums the size of every pack that contributes at least one
// blob of kind. pack.Packer does not read it; its size-growth policy
// uses the packer's own running total.
func (idx *Index) TotalSize(kind data.BlobKind) uint64 {
	seen := map[ids.ID]bool{}
	var total uint64
	for _, e := range idx.kinds[kind].entries {
		if !seen[e.Pack] {
			seen[e.Pack] = true
			total += uint64(idx.packSizes[e.Pack])
		}
	}
	return total
}

// ReadData fetches and decrypts the plaintext of a blob's entry through
// the encrypted backend store, trusting the kind's cacheability rule
// (tree blobs are small and reread often, so they're marked cacheable).
func ReadData(ctx context.Context, store backendstack.EncryptedStore, kind data.BlobKind, e Entry) ([]byte, error) {
	return store.ReadEncryptedPartial(ctx, backend.KindPack, e.Pack, kind == data.TreeBlob, e.Offset, e.Length, e.UncompressedLength)
}

// LiveIndexer accumulates newly-written packs into an in-memory IndexFile
// and flushes it to the backend when it grows large or old enough.
type LiveIndexer struct {
	store backendstack.EncryptedStore

	mu        sync.Mutex
	file      data.IndexFile
	seen      map[ids.ID]bool
	blobCount int
	opened    time.Time
}

const (
	flushBlobCount = 50_000
	flushMaxAge    = 5 * time.Minute
)

// NewLiveIndexer starts an empty live indexer writing flushed index files
// through store.
func NewLiveIndexer(store backendstack.EncryptedStore) *LiveIndexer {
	return &LiveIndexer{store: store, seen: map[ids.ID]bool{}, opened: time.Now()}
}

// AddPack appends pack to the buffer, then flushes the buffer (pack
// included) if either threshold has been crossed.
func (li *LiveIndexer) AddPack(ctx context.Context, pack data.IndexPack) error {
	li.mu.Lock()
	defer li.mu.Unlock()

	li.file.Packs = append(li.file.Packs, pack)
	for _, b := range pack.Blobs {
		li.seen[b.ID] = true
	}
	li.blobCount += len(pack.Blobs)

	if li.blobCount >= flushBlobCount || time.Since(li.opened) >= flushMaxAge {
		return li.flushLocked(ctx)
	}
	return nil
}

// Has reports whether id has been indexed by this session's live indexer.
func (li *LiveIndexer) Has(_ data.BlobKind, id ids.ID) bool {
	li.mu.Lock()
	defer li.mu.Unlock()
	return li.seen[id]
}

func (li *LiveIndexer) flushLocked(ctx context.Context) error {
	if len(li.file.Packs) == 0 {
		return nil
	}

	body, err := json.Marshal(li.file)
	if err != nil {
		return errors.Wrap(err, "Marshal")
	}

	id, err := li.store.HashWriteFull(ctx, backend.KindIndex, true, body)
	if err != nil {
		return err
	}
	debug.Log("live indexer: flushed index %v with %d packs", id, len(li.file.Packs))

	li.file = data.IndexFile{}
	li.blobCount = 0
	li.opened = time.Now()
	return nil
}

// Finalize flushes whatever remains in the buffer unconditionally.
func (li *LiveIndexer) Finalize(ctx context.Context) error {
	li.mu.Lock()
	defer li.mu.Unlock()
	return li.flushLocked(ctx)
}
