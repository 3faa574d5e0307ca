package prune

import (
	"context"
	"encoding/json"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/backendstack"
	"github.com/rustic-rs/rustic-sub001/internal/crypto"
	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/debug"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
	"github.com/rustic-rs/rustic-sub001/internal/index"
	"github.com/rustic-rs/rustic-sub001/internal/pack"
)

// Result summarizes what Execute actually did to the repository.
type Result struct {
	NewIndex      ids.ID
	PacksRemoved  int
	PacksRepacked int
}

// alwaysMiss forces a Packer to accept every Add call regardless of the
// live index: Execute re-adds blobs that are already indexed (they are
// simply moving to a new pack), and the packer's own dedup logic would
// otherwise drop them as already-durable.
type alwaysMiss struct{}

func (alwaysMiss) Has(data.BlobKind, ids.ID) bool { return false }

// collector gathers the IndexPacks a repack pass produces.
type collector struct {
	packs []data.IndexPack
}

func (c *collector) AddPack(_ context.Context, p data.IndexPack) error {
	c.packs = append(c.packs, p)
	return nil
}

// Execute carries out plan: repacked packs are read back out blob by blob
// and re-added to fresh packs, a single consolidated index replacing
// supersedes (the ids of the index files plan's packs were read from) is
// written, and finally packs marked Remove and the now-superseded source of
// every repacked pack are deleted from the backend. The index is written
// before any pack is deleted, so a crash mid-Execute leaves an index that
// still accounts for every surviving pack. It is safe to call Execute again
// with a freshly recomputed Plan against the post-execution repository; a
// pack that needed nothing done to it simply plans as Keep next time.
func Execute(ctx context.Context, plan *Plan, store backendstack.EncryptedStore, be backend.Backend, key *crypto.Key, cfg data.Config, supersedes []ids.ID) (Result, error) {
	var result Result

	dataCollector := &collector{}
	treeCollector := &collector{}
	dataPacker, err := pack.NewPacker(be, key, cfg.Compress(), data.DataBlob, pack.SizeParamsFromConfig(cfg, data.DataBlob), alwaysMiss{}, dataCollector)
	if err != nil {
		return result, errors.Wrap(err, "NewPacker(data)")
	}
	treePacker, err := pack.NewPacker(be, key, cfg.Compress(), data.TreeBlob, pack.SizeParamsFromConfig(cfg, data.TreeBlob), alwaysMiss{}, treeCollector)
	if err != nil {
		return result, errors.Wrap(err, "NewPacker(tree)")
	}

	var kept []data.IndexPack
	var removed []data.IndexPack
	toDelete := map[ids.ID]data.PackDelete{}

	for _, pp := range plan.Packs {
		switch pp.Decision {
		case Keep:
			kept = append(kept, pp.Pack)
		case MarkDelete:
			kept = append(kept, pp.Pack)
			toDelete[pp.Pack.ID] = data.PackDelete{ID: pp.Pack.ID, Time: pp.MarkedAt}
		case Remove:
			removed = append(removed, pp.Pack)
		case Repack:
			if err := repackInto(ctx, store, dataPacker, treePacker, pp); err != nil {
				return result, errors.Wrapf(err, "repack pack %v", pp.Pack.ID)
			}
			// The used blobs now live in a fresh pack; the old one is dead
			// weight once the new index is written.
			removed = append(removed, pp.Pack)
			result.PacksRepacked++
		}
	}

	if _, err := dataPacker.Finalize(); err != nil {
		return result, errors.Wrap(err, "finalize data repacker")
	}
	if _, err := treePacker.Finalize(); err != nil {
		return result, errors.Wrap(err, "finalize tree repacker")
	}

	kept = append(kept, dataCollector.packs...)
	kept = append(kept, treeCollector.packs...)

	file := data.IndexFile{Packs: kept, Supersedes: supersedes}
	for _, d := range toDelete {
		file.PacksToDelete = append(file.PacksToDelete, d)
	}

	body, err := json.Marshal(file)
	if err != nil {
		return result, errors.Wrap(err, "marshal consolidated index")
	}
	newIndexID, err := store.HashWriteFull(ctx, backend.KindIndex, true, body)
	if err != nil {
		return result, errors.Wrap(err, "write consolidated index")
	}
	result.NewIndex = newIndexID
	debug.Log("prune: wrote consolidated index %v (%d packs, %d marked for delete)", newIndexID, len(kept), len(file.PacksToDelete))

	for _, p := range removed {
		cacheable := packIsTree(p)
		if err := be.Remove(ctx, backend.KindPack, p.ID, cacheable); err != nil && !backend.IsNotExist(err) {
			return result, errors.Wrapf(err, "remove pack %v", p.ID)
		}
		result.PacksRemoved++
	}

	for _, s := range supersedes {
		if err := be.Remove(ctx, backend.KindIndex, s, true); err != nil && !backend.IsNotExist(err) {
			return result, errors.Wrapf(err, "remove superseded index %v", s)
		}
	}

	return result, nil
}

// repackInto reads every used blob of pp.Pack back out through the
// encrypted store (which transparently decrypts and decompresses it) and
// re-adds it to whichever of dataPacker/treePacker matches its kind.
func repackInto(ctx context.Context, store backendstack.EncryptedStore, dataPacker, treePacker *pack.Packer, pp PackPlan) error {
	for _, b := range pp.UsedBlobs {
		entry := index.Entry{
			Pack:               pp.Pack.ID,
			Offset:             b.Offset,
			Length:             b.Length,
			UncompressedLength: b.UncompressedLength,
		}
		plaintext, err := index.ReadData(ctx, store, b.Type, entry)
		if err != nil {
			return errors.Wrapf(err, "read blob %v", b.ID)
		}

		packer := dataPacker
		if b.Type == data.TreeBlob {
			packer = treePacker
		}
		if err := packer.Add(ctx, b.ID, plaintext); err != nil {
			return errors.Wrapf(err, "re-add blob %v", b.ID)
		}
	}
	return nil
}

func packIsTree(p data.IndexPack) bool {
	return len(p.Blobs) > 0 && p.Blobs[0].Type == data.TreeBlob
}
