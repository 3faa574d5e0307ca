package archiver

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/backendstack"
	"github.com/rustic-rs/rustic-sub001/internal/chunker"
	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/debug"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
	"github.com/rustic-rs/rustic-sub001/internal/pack"
	"github.com/rustic-rs/rustic-sub001/internal/treebuilder"
	"github.com/rustic-rs/rustic-sub001/internal/walker"
)

// Repository is the narrow capability the backup pipeline needs from the
// rest of the system: resolve a tree blob's bytes (to walk the parent
// snapshot) and know whether a blob is already indexed.
type Repository interface {
	data.BlobLoader
	pack.ReadIndex
}

// Packers bundles the two packers a backup run writes new blobs through.
type Packers struct {
	Data *pack.Packer
	Tree *pack.Packer
}

// Options configures a Pipeline.
type Options struct {
	Polynomial chunker.Pol
	// FileWorkers bounds how many files are read and chunked concurrently.
	FileWorkers int
	ErrorFunc   ErrorFunc
	SelectFunc  SelectFunc
	Hostname    string
}

// Pipeline runs backups: it classifies a source tree against an optional
// parent snapshot, archives new file content with a bounded worker pool,
// and serializes the resulting tree in the source's original order.
type Pipeline struct {
	repo    Repository
	packers Packers
	store   backendstack.EncryptedStore
	opts    Options
}

// New returns a Pipeline writing new blobs through packers and the final
// snapshot record through store.
func New(repo Repository, packers Packers, store backendstack.EncryptedStore, opts Options) *Pipeline {
	if opts.FileWorkers <= 0 {
		opts.FileWorkers = 8
	}
	if opts.ErrorFunc == nil {
		opts.ErrorFunc = PrintWarnings
	}
	return &Pipeline{repo: repo, packers: packers, store: store, opts: opts}
}

type future struct {
	ev  ClassifiedEvent
	err error
}

// Backup archives targets as a single snapshot. parentTree, if non-nil,
// roots the parent snapshot content is diffed against; parentID (if any)
// is recorded as the new snapshot's parent link.
func (pl *Pipeline) Backup(ctx context.Context, targets []string, tags []string, parentID, parentTree *ids.ID) (*data.Snapshot, ids.ID, error) {
	sn, err := data.NewSnapshot(targets, tags, pl.opts.Hostname, time.Now())
	if err != nil {
		return nil, ids.ID{}, err
	}
	sn.Parent = parentID

	w, err := walker.NewParentWalker(ctx, pl.repo, pl.repo, parentTree)
	if err != nil {
		return nil, ids.ID{}, err
	}

	events := TreeEvents(Walk(targets, pl.opts.SelectFunc))
	classified := Classify(ctx, events, w, pl.opts.ErrorFunc)
	fa := NewFileArchiver(pl.packers.Data, pl.repo, pl.opts.Polynomial)

	order := make(chan chan future, pl.opts.FileWorkers*2)
	sem := semaphore.NewWeighted(int64(pl.opts.FileWorkers))

	go func() {
		defer close(order)
		for ev := range classified {
			ch := make(chan future, 1)
			select {
			case order <- ch:
			case <-ctx.Done():
				return
			}

			if ev.Kind == EventOther && ev.Node.Type == data.NodeTypeFile && ev.Match != walker.Matched {
				if err := sem.Acquire(ctx, 1); err != nil {
					ch <- future{ev: ev, err: err}
					continue
				}
				go func(ev ClassifiedEvent, ch chan future) {
					defer sem.Release(1)
					_, err := fa.Process(ctx, ev.Entry, ev.Node)
					ch <- future{ev: ev, err: err}
				}(ev, ch)
				continue
			}

			ch <- future{ev: ev}
		}
	}()

	summary := &data.SnapshotSummary{BackupStart: time.Now()}
	ts := &treeSaver{packer: pl.packers.Tree, index: pl.repo}
	builder := treebuilder.New(ts)

	type dirFrame struct {
		node  *data.Node
		match walker.TreeMatch
	}
	var stack []dirFrame

	for ch := range order {
		f := <-ch
		if f.err != nil {
			if pl.opts.ErrorFunc(f.ev.Path, f.err) != nil {
				return nil, ids.ID{}, f.err
			}
			continue
		}

		switch f.ev.Kind {
		case EventNewTree:
			builder.Push(f.ev.Path, f.ev.Node)
			match := walker.TreeMatch{}
			if f.ev.Subtree != nil {
				match = *f.ev.Subtree
			}
			stack = append(stack, dirFrame{node: f.ev.Node, match: match})

		case EventEndTree:
			if len(stack) == 0 {
				return nil, ids.ID{}, errors.Fatal("archiver: end-tree event with no open directory")
			}
			n := len(stack) - 1
			frame := stack[n]
			stack = stack[:n]

			if err := builder.Pop(ctx); err != nil {
				return nil, ids.ID{}, err
			}
			// a backup target's own directory goes into the snapshot's root
			// tree, which is accounted once after Finalize below
			if len(stack) > 0 {
				accountDir(summary, frame.match.Kind, frame.match.Subtree, frame.node.Subtree)
			}
			if err := builder.AddNode(frame.node); err != nil {
				return nil, ids.ID{}, err
			}

		case EventOther:
			if err := builder.AddNode(f.ev.Node); err != nil {
				return nil, ids.ID{}, err
			}
			accountFile(summary, f.ev.Match, f.ev.Node.Size)
		}
	}

	dataStats, err := pl.packers.Data.Finalize()
	if err != nil {
		return nil, ids.ID{}, err
	}

	rootBytes, err := builder.Finalize()
	if err != nil {
		return nil, ids.ID{}, err
	}
	rootID, err := ts.SaveTreeBlob(ctx, rootBytes)
	if err != nil {
		return nil, ids.ID{}, err
	}
	rootMatch := walker.NotFound
	if parentTree != nil {
		rootMatch = walker.Matched
	}
	accountDir(summary, rootMatch, parentTree, &rootID)

	treeStats, err := pl.packers.Tree.Finalize()
	if err != nil {
		return nil, ids.ID{}, err
	}

	summary.DataBlobs = dataStats.BlobsWritten
	summary.DataAdded = dataStats.BytesWritten
	summary.TreeBlobs = treeStats.BlobsWritten
	summary.TreeDataAdded = treeStats.BytesWritten
	summary.BackupEnd = time.Now()

	sn.Tree = &rootID
	sn.Summary = summary

	body, err := json.Marshal(sn)
	if err != nil {
		return nil, ids.ID{}, errors.Wrap(err, "marshal snapshot")
	}
	id, err := pl.store.HashWriteFull(ctx, backend.KindSnapshot, true, body)
	if err != nil {
		return nil, ids.ID{}, err
	}
	sn.SetID(id)

	debug.Log("backup finished: snapshot %v, tree %v", id, rootID)
	return sn, id, nil
}

func accountFile(summary *data.SnapshotSummary, match walker.MatchKind, size uint64) {
	switch match {
	case walker.Matched:
		summary.FilesUnmodified++
	case walker.NotMatched:
		summary.FilesChanged++
	case walker.NotFound:
		summary.FilesNew++
	}
	summary.TotalFilesProcessed++
	summary.TotalBytesProcessed += size
}

func accountDir(summary *data.SnapshotSummary, match walker.MatchKind, parentSubtree, id *ids.ID) {
	newDir, changedDir, unmodifiedDir := classifyTree(match, parentSubtree, derefOr(id))
	switch {
	case unmodifiedDir:
		summary.DirsUnmodified++
	case newDir:
		summary.DirsNew++
	case changedDir:
		summary.DirsChanged++
	}
	summary.TotalDirsProcessed++
}

func derefOr(id *ids.ID) ids.ID {
	if id == nil {
		return ids.ID{}
	}
	return *id
}
