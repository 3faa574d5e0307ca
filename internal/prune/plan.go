// Package prune computes and executes the plan that reclaims space from a
// repository: which packs are still fully referenced, which have decayed to
// the point of being worth repacking, and which no live snapshot touches at
// all any more.
package prune

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/debug"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// Options configures a planning pass. The zero value is usable: no grace
// period, a 30% unused-space threshold, and unlimited repacking.
type Options struct {
	// KeepThreshold is the fraction of a pack's bytes that may go unused
	// before the pack is considered worth repacking.
	KeepThreshold float64
	// DeleteGracePeriod is how long a pack must sit with zero used blobs,
	// marked for deletion, before it is actually removed. This protects a
	// concurrent backup that is mid-write against this same pack's
	// "unused" snapshot going stale underneath it.
	DeleteGracePeriod time.Duration
	// MaxRepackBytes caps how many used bytes a single plan will schedule
	// for repacking; 0 means unlimited.
	MaxRepackBytes uint64
	// RepackSmallBelow schedules a fully-used pack for repacking anyway if
	// its size is below this fraction of 32 MiB (the data packer's target
	// size, applied to tree packs as well), so a repository doesn't
	// accumulate many small packs over time. 0 disables this check.
	RepackSmallBelow float64
	// Now is the reference time for grace-period comparisons. The zero
	// value means time.Now().
	Now time.Time
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

const defaultKeepThreshold = 0.3 // up to 30% of a pack may go unused before it is repacked

// PackDecision classifies what should happen to one pack.
type PackDecision int

const (
	// Keep leaves the pack untouched: it is mostly used and not too small.
	Keep PackDecision = iota
	// Repack re-emits the pack's still-used blobs into fresh packs and
	// drops the rest.
	Repack
	// MarkDelete flags an entirely-unused pack for removal once its grace
	// period elapses.
	MarkDelete
	// Remove deletes an entirely-unused pack that a prior plan already
	// marked and whose grace period has since elapsed.
	Remove
)

func (d PackDecision) String() string {
	switch d {
	case Keep:
		return "keep"
	case Repack:
		return "repack"
	case MarkDelete:
		return "mark-delete"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// PackPlan is one pack's classification, together with the blobs of it
// still in use by a live snapshot (UsedBlobs, which Execute re-packs for a
// Repack decision) and their total size.
type PackPlan struct {
	Pack      data.IndexPack
	Decision  PackDecision
	UsedBlobs []data.IndexBlob
	UsedSize  uint64
	TotalSize uint64
	MarkedAt  time.Time // set for MarkDelete and Remove; the time it was first found fully unused
}

// SizeStats totals bytes across every pack a plan considered, broken down
// by what will happen to those bytes.
type SizeStats struct {
	Used      uint64
	Duplicate uint64
	Unused    uint64
	Remove    uint64
	Repack    uint64
	RepackRm  uint64
}

// Plan is the read-only result of PlanPrune: what to do with every pack the
// index currently lists, plus totals for reporting.
type Plan struct {
	Packs []PackPlan
	Stats SizeStats

	opts Options
}

// SnapshotRef names a live snapshot and the root tree it must keep
// reachable. A nil or null Tree is skipped (an incomplete snapshot).
type SnapshotRef struct {
	ID   ids.ID
	Tree *ids.ID
}

// reachableBlobs walks every live snapshot's tree concurrently, returning
// the union of every data and tree blob id any of them still reference.
// Subtrees already visited by one snapshot's walk are not re-walked by
// another's, the same de-duplication the checker's structure walk uses.
func reachableBlobs(ctx context.Context, snapshots []SnapshotRef, loader data.BlobLoader) (map[ids.ID]bool, error) {
	seenTrees := xsync.NewMapOf[ids.ID, struct{}]()
	var mu sync.Mutex
	blobs := map[ids.ID]bool{}
	record := func(id ids.ID) {
		mu.Lock()
		blobs[id] = true
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sn := range snapshots {
		sn := sn
		if sn.Tree == nil || sn.Tree.IsNull() {
			continue
		}
		record(*sn.Tree)
		g.Go(func() error { return walkTree(gctx, sn.Tree, loader, seenTrees, record) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blobs, nil
}

func walkTree(ctx context.Context, treeID *ids.ID, loader data.BlobLoader, seen *xsync.MapOf[ids.ID, struct{}], record func(ids.ID)) error {
	if _, loaded := seen.LoadOrStore(*treeID, struct{}{}); loaded {
		return nil
	}

	nodes, err := data.LoadTree(ctx, loader, *treeID)
	if err != nil {
		return errors.Wrapf(err, "load tree %v", treeID)
	}

	var subtrees []ids.ID
	for item := range nodes {
		if item.Error != nil {
			return errors.Wrapf(item.Error, "decode tree %v", treeID)
		}
		node := item.Node
		switch node.Type {
		case data.NodeTypeFile:
			for _, id := range node.Content {
				if !id.IsNull() {
					record(id)
				}
			}
		case data.NodeTypeDir:
			if node.Subtree != nil && !node.Subtree.IsNull() {
				record(*node.Subtree)
				subtrees = append(subtrees, *node.Subtree)
			}
		}
	}

	for _, sub := range subtrees {
		if err := walkTree(ctx, &sub, loader, seen, record); err != nil {
			return err
		}
	}
	return nil
}

// PlanPrune builds a Plan: it computes the set of blobs still reachable
// from snapshots, classifies every pack the index lists against that set
// and opts' thresholds, and totals the result. It touches nothing; callers
// decide separately whether to Execute the result.
func PlanPrune(ctx context.Context, opts Options, packs []data.IndexPack, deleted []data.PackDelete, snapshots []SnapshotRef, loader data.BlobLoader) (*Plan, error) {
	if opts.KeepThreshold <= 0 {
		opts.KeepThreshold = defaultKeepThreshold
	}

	used, err := reachableBlobs(ctx, snapshots, loader)
	if err != nil {
		return nil, errors.Wrap(err, "reachableBlobs")
	}

	markedAt := make(map[ids.ID]time.Time, len(deleted))
	for _, d := range deleted {
		markedAt[d.ID] = d.Time
	}

	plan := &Plan{opts: opts}
	now := opts.now()

	// A blob id can appear in more than one pack if a prior, interrupted
	// prune already repacked it; only the first pack seen is "used", the
	// rest are duplicates whose copy is always dropped regardless of the
	// pack's own decision.
	claimed := map[ids.ID]bool{}

	for _, p := range packs {
		pp := PackPlan{Pack: p}
		for _, b := range p.Blobs {
			pp.TotalSize += uint64(b.Length)
			if !used[b.ID] {
				continue
			}
			if claimed[b.ID] {
				plan.Stats.Duplicate += uint64(b.Length)
				continue
			}
			claimed[b.ID] = true
			pp.UsedBlobs = append(pp.UsedBlobs, b)
			pp.UsedSize += uint64(b.Length)
		}

		unusedSize := pp.TotalSize - pp.UsedSize
		plan.Stats.Used += pp.UsedSize
		plan.Stats.Unused += unusedSize

		switch {
		case pp.UsedSize == 0:
			markedTime, wasMarked := markedAt[p.ID]
			if wasMarked && now.Sub(markedTime) >= opts.DeleteGracePeriod {
				pp.Decision = Remove
				pp.MarkedAt = markedTime
				plan.Stats.Remove += pp.TotalSize
			} else {
				pp.Decision = MarkDelete
				if wasMarked {
					pp.MarkedAt = markedTime
				} else {
					pp.MarkedAt = now
				}
			}
		case float64(unusedSize) > opts.KeepThreshold*float64(pp.TotalSize), isUndersized(opts, pp.TotalSize):
			pp.Decision = Repack
			plan.Stats.Repack += pp.UsedSize
			plan.Stats.RepackRm += unusedSize
		default:
			pp.Decision = Keep
		}

		plan.Packs = append(plan.Packs, pp)
	}

	if opts.MaxRepackBytes > 0 {
		capRepack(plan, opts.MaxRepackBytes)
	}

	debug.Log("prune: planned %d packs (used %d, unused %d, repack %d, remove %d)",
		len(plan.Packs), plan.Stats.Used, plan.Stats.Unused, plan.Stats.Repack, plan.Stats.Remove)

	return plan, nil
}

func isUndersized(opts Options, totalSize uint64) bool {
	if opts.RepackSmallBelow <= 0 {
		return false
	}
	// RepackSmallBelow is interpreted against the data packer's nominal
	// target; packs well under it are cheap to merge away.
	const targetPackSize = 32 * 1024 * 1024
	return float64(totalSize) < opts.RepackSmallBelow*targetPackSize
}

// capRepack demotes the tail of the Repack-classified packs back to Keep,
// in index order, once the cumulative used-byte budget is exhausted. This
// keeps a single prune run bounded on networks where repacking is the
// expensive step.
func capRepack(plan *Plan, maxBytes uint64) {
	var spent uint64
	for i := range plan.Packs {
		pp := &plan.Packs[i]
		if pp.Decision != Repack {
			continue
		}
		if spent+pp.UsedSize > maxBytes {
			pp.Decision = Keep
			plan.Stats.Repack -= pp.UsedSize
			plan.Stats.RepackRm -= pp.TotalSize - pp.UsedSize
			continue
		}
		spent += pp.UsedSize
	}
}
