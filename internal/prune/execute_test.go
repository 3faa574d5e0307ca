package prune

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
	"github.com/rustic-rs/rustic-sub001/internal/index"
)

func TestExecuteRepacksAndDropsOrphanBlobs(t *testing.T) {
	ctx := context.Background()
	repo := buildTestRepo(t)

	packs := []data.IndexPack{repo.dataPack, repo.treePack}
	plan, err := PlanPrune(ctx, Options{}, packs, nil, []SnapshotRef{repo.snapshot}, repo)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}

	result, err := Execute(ctx, plan, repo.store, repo.be, repo.key, data.Config{Version: 2}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.PacksRepacked != 1 {
		t.Fatalf("expected exactly one repacked pack, got %d", result.PacksRepacked)
	}

	file := readIndexFile(t, repo, result.NewIndex)
	newIdx := index.New(index.Full, file.Packs)
	if !newIdx.Has(data.DataBlob, repo.usedBlob) {
		t.Fatal("expected the used blob to survive repacking")
	}
	if newIdx.Has(data.DataBlob, repo.orphan) {
		t.Fatal("expected the orphan blob to be dropped by repacking")
	}

	// Execute deletes the old data pack once its used blob has been
	// repacked. Confirm the new pack holding the used blob actually exists.
	e, _ := newIdx.Get(data.DataBlob, repo.usedBlob)
	if _, err := repo.be.ReadFull(ctx, backend.KindPack, e.Pack); err != nil {
		t.Fatalf("expected the repacked pack to exist in the backend: %v", err)
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := buildTestRepo(t)

	packs := []data.IndexPack{repo.dataPack, repo.treePack}
	plan, err := PlanPrune(ctx, Options{}, packs, nil, []SnapshotRef{repo.snapshot}, repo)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}
	result, err := Execute(ctx, plan, repo.store, repo.be, repo.key, data.Config{Version: 2}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	file := readIndexFile(t, repo, result.NewIndex)

	plan2, err := PlanPrune(ctx, Options{}, file.Packs, file.PacksToDelete, []SnapshotRef{repo.snapshot}, repo)
	if err != nil {
		t.Fatalf("second PlanPrune: %v", err)
	}
	for _, pp := range plan2.Packs {
		if pp.Decision != Keep {
			t.Fatalf("expected a re-run against the post-execution repository to plan Keep for every pack, got %v for pack %v", pp.Decision, pp.Pack.ID)
		}
	}
}

func TestExecuteRemovesPacksPastTheGracePeriod(t *testing.T) {
	ctx := context.Background()
	repo := buildTestRepo(t)
	t0 := time.Now().Add(-48 * time.Hour)

	// No snapshot is live, so the data pack is wholly orphaned; it was
	// already marked by a prior run, 48h ago.
	marked := []data.PackDelete{{ID: repo.dataPack.ID, Time: t0}}
	opts := Options{DeleteGracePeriod: time.Hour}
	plan, err := PlanPrune(ctx, opts, []data.IndexPack{repo.dataPack, repo.treePack}, marked, nil, repo)
	if err != nil {
		t.Fatalf("PlanPrune: %v", err)
	}

	found := false
	for _, pp := range plan.Packs {
		if pp.Pack.ID == repo.dataPack.ID {
			found = true
			if pp.Decision != Remove {
				t.Fatalf("expected the data pack to be Remove past its grace period, got %v", pp.Decision)
			}
		}
	}
	if !found {
		t.Fatal("data pack missing from plan")
	}

	result, err := Execute(ctx, plan, repo.store, repo.be, repo.key, data.Config{Version: 2}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.PacksRemoved != 1 {
		t.Fatalf("expected exactly one removed pack, got %d", result.PacksRemoved)
	}
	if _, err := repo.be.ReadFull(ctx, backend.KindPack, repo.dataPack.ID); err == nil {
		t.Fatal("expected the removed pack to be gone from the backend")
	}
}

func readIndexFile(t *testing.T, repo testRepo, id ids.ID) data.IndexFile {
	t.Helper()
	raw, err := repo.store.ReadEncryptedFull(context.Background(), backend.KindIndex, id)
	if err != nil {
		t.Fatalf("ReadEncryptedFull: %v", err)
	}
	var file data.IndexFile
	if err := json.Unmarshal(raw, &file); err != nil {
		t.Fatalf("Unmarshal index file: %v", err)
	}
	return file
}
