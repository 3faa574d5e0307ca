package prune

import (
	"context"
	"testing"
	"time"

	"github.com/rustic-rs/rustic-sub001/internal/backend/mem"
	"github.com/rustic-rs/rustic-sub001/internal/backendstack"
	"github.com/rustic-rs/rustic-sub001/internal/crypto"
	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
	"github.com/rustic-rs/rustic-sub001/internal/index"
	"github.com/rustic-rs/rustic-sub001/internal/pack"
)

// testRepo builds an in-memory repository whose data pack holds one blob a
// live snapshot references ("hello.txt") and one orphan blob nothing
// references, plus a tree pack for the snapshot's root tree. It mirrors the
// checker package's own test fixture, grounded the same way.
type testRepo struct {
	be    *mem.MemoryBackend
	key   *crypto.Key
	store backendstack.EncryptedStore
	idx   *index.Index

	dataPack data.IndexPack
	treePack data.IndexPack
	usedBlob ids.ID
	orphan   ids.ID
	snapshot SnapshotRef
}

func (r testRepo) LoadBlob(ctx context.Context, id ids.ID) ([]byte, error) {
	e, ok := r.idx.Get(data.TreeBlob, id)
	if !ok {
		return nil, errNotFound
	}
	return index.ReadData(ctx, r.store, data.TreeBlob, e)
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "blob not found in test index" }

var errNotFound = notFoundErr{}

func buildTestRepo(t *testing.T) testRepo {
	t.Helper()
	ctx := context.Background()
	be := mem.New()
	key := crypto.NewRandomKey()
	store, err := backendstack.NewCryptZstd(be, key, true, 0)
	if err != nil {
		t.Fatalf("NewCryptZstd: %v", err)
	}

	var dataCollected, treeCollected []data.IndexPack
	dataIndexer := &testCollector{&dataCollected}
	treeIndexer := &testCollector{&treeCollected}

	dataPacker, err := pack.NewPacker(be, key, true, data.DataBlob, pack.DefaultDataSizeParams, alwaysMiss{}, dataIndexer)
	if err != nil {
		t.Fatalf("NewPacker(data): %v", err)
	}
	usedBlob := ids.Hash([]byte("hello world"))
	orphan := ids.Hash([]byte("nobody references me"))
	if err := dataPacker.Add(ctx, usedBlob, []byte("hello world")); err != nil {
		t.Fatalf("Add used blob: %v", err)
	}
	if err := dataPacker.Add(ctx, orphan, []byte("nobody references me")); err != nil {
		t.Fatalf("Add orphan blob: %v", err)
	}
	if _, err := dataPacker.Finalize(); err != nil {
		t.Fatalf("Finalize data packer: %v", err)
	}

	treePacker, err := pack.NewPacker(be, key, true, data.TreeBlob, pack.DefaultTreeSizeParams, alwaysMiss{}, treeIndexer)
	if err != nil {
		t.Fatalf("NewPacker(tree): %v", err)
	}
	treeBody := []byte(`{"nodes":[{"name":"hello.txt","type":"file","content":["` + usedBlob.String() + `"]}]}`)
	treeID := ids.Hash(treeBody)
	if err := treePacker.Add(ctx, treeID, treeBody); err != nil {
		t.Fatalf("Add tree blob: %v", err)
	}
	if _, err := treePacker.Finalize(); err != nil {
		t.Fatalf("Finalize tree packer: %v", err)
	}

	allPacks := append(append([]data.IndexPack{}, dataCollected...), treeCollected...)
	idx := index.New(index.Full, allPacks)

	return testRepo{
		be: be, key: key, store: store, idx: idx,
		dataPack: dataCollected[0], treePack: treeCollected[0],
		usedBlob: usedBlob, orphan: orphan,
		snapshot: SnapshotRef{ID: ids.Hash([]byte("snapshot")), Tree: &treeID},
	}
}

type testCollector struct {
	packs *[]data.IndexPack
}

func (c *testCollector) AddPack(_ context.Context, p data.IndexPack) error {
	*c.packs = append(*c.packs, p)
	return nil
}

func TestPlanPruneKeepsFullyUsedPacks(t *testing.T) {
	repo := buildTestRepo(t)
	plan, err := PlanPrune(context.Background(), Options{}, []data.IndexPack{repo.treePack}, nil, []SnapshotRef{repo.snapshot}, repo)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	if len(plan.Packs) != 1 || plan.Packs[0].Decision != Keep {
		t.Fatalf("expected the tree pack to be kept, got %+v", plan.Packs)
	}
}

func TestPlanPruneRepacksPartiallyUsedPack(t *testing.T) {
	repo := buildTestRepo(t)
	plan, err := PlanPrune(context.Background(), Options{}, []data.IndexPack{repo.dataPack}, nil, []SnapshotRef{repo.snapshot}, repo)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	if len(plan.Packs) != 1 || plan.Packs[0].Decision != Repack {
		t.Fatalf("expected the data pack (half orphaned) to be scheduled for repack, got %+v", plan.Packs)
	}
	if len(plan.Packs[0].UsedBlobs) != 1 || plan.Packs[0].UsedBlobs[0].ID != repo.usedBlob {
		t.Fatalf("expected only the referenced blob to survive, got %+v", plan.Packs[0].UsedBlobs)
	}
}

func TestPlanPruneMarksFullyUnusedPackForDeletion(t *testing.T) {
	repo := buildTestRepo(t)
	// No live snapshots at all: the whole data pack is orphaned.
	plan, err := PlanPrune(context.Background(), Options{}, []data.IndexPack{repo.dataPack}, nil, nil, repo)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	if len(plan.Packs) != 1 || plan.Packs[0].Decision != MarkDelete {
		t.Fatalf("expected the wholly unused pack to be marked for delete, got %+v", plan.Packs)
	}
	if plan.Packs[0].MarkedAt.IsZero() {
		t.Fatal("expected MarkedAt to be set")
	}
}

func TestPlanPruneHonorsGracePeriod(t *testing.T) {
	repo := buildTestRepo(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	marked := []data.PackDelete{{ID: repo.dataPack.ID, Time: t0}}

	// Immediately after marking, still within the grace period: stays
	// MarkDelete.
	opts := Options{DeleteGracePeriod: 24 * time.Hour, Now: t0.Add(time.Hour)}
	plan, err := PlanPrune(context.Background(), opts, []data.IndexPack{repo.dataPack}, marked, nil, repo)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	if plan.Packs[0].Decision != MarkDelete {
		t.Fatalf("expected MarkDelete still within the grace period, got %v", plan.Packs[0].Decision)
	}

	// Past the grace period: graduates to Remove.
	opts.Now = t0.Add(48 * time.Hour)
	plan, err = PlanPrune(context.Background(), opts, []data.IndexPack{repo.dataPack}, marked, nil, repo)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	if plan.Packs[0].Decision != Remove {
		t.Fatalf("expected Remove past the grace period, got %v", plan.Packs[0].Decision)
	}
}
