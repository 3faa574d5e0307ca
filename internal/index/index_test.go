package index

import (
	"context"
	"testing"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/backend/mem"
	"github.com/rustic-rs/rustic-sub001/internal/backendstack"
	"github.com/rustic-rs/rustic-sub001/internal/crypto"
	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

func samplePacks() []data.IndexPack {
	dataID := ids.Hash([]byte("data blob"))
	treeID := ids.Hash([]byte("tree blob"))
	packID := ids.Hash([]byte("pack bytes"))

	return []data.IndexPack{
		{
			ID:   packID,
			Size: 1000,
			Blobs: []data.IndexBlob{
				{ID: dataID, Type: data.DataBlob, Offset: 0, Length: 400},
				{ID: treeID, Type: data.TreeBlob, Offset: 400, Length: 300},
			},
		},
	}
}

func TestIndexLookupFull(t *testing.T) {
	packs := samplePacks()
	idx := New(Full, packs)

	dataID := packs[0].Blobs[0].ID
	treeID := packs[0].Blobs[1].ID

	if !idx.Has(data.DataBlob, dataID) {
		t.Fatalf("expected data blob present")
	}
	entry, ok := idx.Get(data.DataBlob, dataID)
	if !ok || entry.Pack != packs[0].ID || entry.Offset != 0 || entry.Length != 400 {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	if !idx.Has(data.TreeBlob, treeID) {
		t.Fatalf("expected tree blob present")
	}

	unknown := ids.Hash([]byte("not present"))
	if idx.Has(data.DataBlob, unknown) {
		t.Fatalf("unknown id should not be present")
	}
}

func TestIndexFullTreesVariantDropsData(t *testing.T) {
	packs := samplePacks()
	idx := New(FullTrees, packs)

	dataID := packs[0].Blobs[0].ID
	treeID := packs[0].Blobs[1].ID

	if idx.Has(data.DataBlob, dataID) {
		t.Fatalf("FullTrees variant must not retain data blobs")
	}
	if !idx.Has(data.TreeBlob, treeID) {
		t.Fatalf("FullTrees variant must retain tree blobs")
	}
}

func TestIndexDataIdsVariant(t *testing.T) {
	packs := samplePacks()
	idx := New(DataIds, packs)

	dataID := packs[0].Blobs[0].ID
	treeID := packs[0].Blobs[1].ID

	if !idx.Has(data.DataBlob, dataID) {
		t.Fatalf("DataIds variant must retain data presence")
	}
	if _, ok := idx.Get(data.DataBlob, dataID); !ok {
		t.Fatalf("DataIds variant Get should report found=true")
	}
	entry, ok := idx.Get(data.TreeBlob, treeID)
	if !ok || entry.Pack != packs[0].ID {
		t.Fatalf("DataIds variant must keep full tree entries, got %+v ok=%v", entry, ok)
	}
}

func TestLiveIndexerFlushesOnFinalize(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	key := crypto.NewRandomKey()
	cz, err := backendstack.NewCryptZstd(be, key, false, 0)
	if err != nil {
		t.Fatalf("NewCryptZstd: %v", err)
	}

	li := NewLiveIndexer(cz)
	pack := samplePacks()[0]
	if err := li.AddPack(ctx, pack); err != nil {
		t.Fatalf("AddPack: %v", err)
	}
	if !li.Has(data.DataBlob, pack.Blobs[0].ID) {
		t.Fatalf("expected blob to be tracked before flush")
	}

	if err := li.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	list, err := be.ListWithSize(ctx, backend.KindIndex)
	if err != nil {
		t.Fatalf("ListWithSize: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one flushed index file, got %d", len(list))
	}
}
