// Package checker validates a repository's integrity without mutating it:
// that every pack the index claims actually exists in the backend with the
// right size, that every snapshot's tree is fully reachable and every file
// blob it names is indexed, and optionally that every pack's bytes really
// decrypt to what the index says they do.
package checker

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/backendstack"
	"github.com/rustic-rs/rustic-sub001/internal/crypto"
	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/debug"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
	"github.com/rustic-rs/rustic-sub001/internal/index"
)

// Options controls how thoroughly Checker inspects a repository.
type Options struct {
	// TrustCache skips the cache-vs-backend byte comparison in CheckCache,
	// trusting whatever the cache already served the rest of the run.
	TrustCache bool
	// ReadData enables ReadData's full pack download and per-blob
	// decrypt-and-hash verification. Expensive: it touches every byte in
	// the repository.
	ReadData bool
}

// Checker inspects a repository built from the given index and pack list
// without writing anything back to it.
type Checker struct {
	be    backend.Backend
	store backendstack.EncryptedStore
	cache *backendstack.Cache
	key   *crypto.Key
	idx   *index.Index
	packs []data.IndexPack
	opts  Options
}

// New builds a Checker. cache may be nil if the repository was opened
// without a local cache.
func New(be backend.Backend, store backendstack.EncryptedStore, cache *backendstack.Cache, key *crypto.Key, idx *index.Index, packs []data.IndexPack, opts Options) *Checker {
	return &Checker{be: be, store: store, cache: cache, key: key, idx: idx, packs: packs, opts: opts}
}

// PackError describes one pack that the index references but the backend
// does not have in the expected shape.
type PackError struct {
	ID  ids.ID
	Err error
}

func (e *PackError) Error() string { return errors.Wrapf(e.Err, "pack %v", e.ID).Error() }

// CheckPacks cross-checks every pack named in the index against the
// backend's listing: the pack must exist and its size must match what the
// index recorded when it was written.
func (c *Checker) CheckPacks(ctx context.Context) []error {
	listed, err := c.be.ListWithSize(ctx, backend.KindPack)
	if err != nil {
		return []error{errors.Wrap(err, "list packs")}
	}

	sizes := make(map[ids.ID]uint32, len(listed))
	for _, p := range listed {
		sizes[p.ID] = p.Size
	}

	var errs []error
	for _, p := range c.packs {
		size, ok := sizes[p.ID]
		if !ok {
			errs = append(errs, &PackError{ID: p.ID, Err: errors.New("does not exist in backend")})
			continue
		}
		if p.Size != 0 && size != p.Size {
			errs = append(errs, &PackError{ID: p.ID, Err: errors.Errorf("size mismatch: index says %d, backend has %d", p.Size, size)})
		}
		delete(sizes, p.ID)
	}

	for id := range sizes {
		debug.Log("checker: pack %v exists in backend but is referenced by no index", id)
	}

	return errs
}

// TreeError is one problem found while validating a snapshot's tree.
type TreeError struct {
	Snapshot ids.ID
	Tree     ids.ID
	Err      error
}

func (e *TreeError) Error() string {
	return errors.Wrapf(e.Err, "snapshot %v tree %v", e.Snapshot, e.Tree).Error()
}

// SnapshotRef is the minimal view of a snapshot Structure needs: its own id
// and the root tree it points at.
type SnapshotRef struct {
	ID   ids.ID
	Tree *ids.ID
}

// CheckStructure walks every snapshot's tree, deduplicating subtrees already
// visited by an earlier snapshot, and verifies that every file's content
// blobs and every directory's subtree are present in the index.
func (c *Checker) CheckStructure(ctx context.Context, snapshots []SnapshotRef, loader data.BlobLoader) []error {
	seen := xsync.NewMapOf[ids.ID, struct{}]()
	var mu sync.Mutex
	var errs []error
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sn := range snapshots {
		sn := sn
		if sn.Tree == nil || sn.Tree.IsNull() {
			record(&TreeError{Snapshot: sn.ID, Err: errors.New("snapshot has no root tree")})
			continue
		}
		g.Go(func() error {
			c.checkTree(gctx, sn.ID, *sn.Tree, loader, seen, record)
			return nil
		})
	}
	_ = g.Wait()

	return errs
}

func (c *Checker) checkTree(ctx context.Context, snID, treeID ids.ID, loader data.BlobLoader, seen *xsync.MapOf[ids.ID, struct{}], record func(error)) {
	if _, loaded := seen.LoadOrStore(treeID, struct{}{}); loaded {
		return
	}

	if !c.idx.Has(data.TreeBlob, treeID) {
		record(&TreeError{Snapshot: snID, Tree: treeID, Err: errors.New("tree blob not found in index")})
		return
	}

	nodes, err := data.LoadTree(ctx, loader, treeID)
	if err != nil {
		record(&TreeError{Snapshot: snID, Tree: treeID, Err: errors.Wrap(err, "load tree")})
		return
	}

	var subtrees []ids.ID
	for item := range nodes {
		if item.Error != nil {
			record(&TreeError{Snapshot: snID, Tree: treeID, Err: errors.Wrap(item.Error, "decode tree")})
			return
		}
		node := item.Node
		if node.Name == "" {
			record(&TreeError{Snapshot: snID, Tree: treeID, Err: errors.New("node with empty name")})
		}
		switch node.Type {
		case data.NodeTypeFile:
			if node.Content == nil {
				record(&TreeError{Snapshot: snID, Tree: treeID, Err: errors.Errorf("file %q has nil content list", node.Name)})
				continue
			}
			for _, blobID := range node.Content {
				if blobID.IsNull() {
					record(&TreeError{Snapshot: snID, Tree: treeID, Err: errors.Errorf("file %q references a null blob id", node.Name)})
					continue
				}
				if !c.idx.Has(data.DataBlob, blobID) {
					record(&TreeError{Snapshot: snID, Tree: treeID, Err: errors.Errorf("file %q blob %v not found in index", node.Name, blobID)})
				}
			}
		case data.NodeTypeDir:
			if node.Subtree == nil || node.Subtree.IsNull() {
				record(&TreeError{Snapshot: snID, Tree: treeID, Err: errors.Errorf("dir %q has no subtree", node.Name)})
				continue
			}
			subtrees = append(subtrees, *node.Subtree)
		}
	}

	for _, sub := range subtrees {
		c.checkTree(ctx, snID, sub, loader, seen, record)
	}
}
