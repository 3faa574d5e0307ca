// Package walker implements the parent walker: it steps through a
// previous snapshot's tree in lockstep with the tree the backup pipeline
// is currently traversing, so unchanged files and directories can be
// reused instead of rechunked.
package walker

import (
	"context"

	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// ErrTreeStackEmpty is returned by EndTree when it is called without a
// matching NewTree, an invariant violation in the caller.
var ErrTreeStackEmpty = errors.Fatal("walker: tree stack underflow")

// MatchKind classifies how a source entry relates to its parent-tree
// counterpart of the same name.
type MatchKind int

const (
	// NotFound means no sibling of that name exists in the parent tree.
	NotFound MatchKind = iota
	// NotMatched means a sibling exists but disagrees (type, size,
	// mtime, inode or ctime). A sibling whose content blobs are no
	// longer all in the index is reported as NotFound.
	NotMatched
	// Matched means the sibling can be reused as-is.
	Matched
)

// DataIndex is the read-only capability the walker needs to confirm a
// matched file's content blobs are still present before reusing them.
type DataIndex interface {
	Has(kind data.BlobKind, id ids.ID) bool
}

// TreeMatch is the result of NewTree: whether a same-named directory
// exists in the parent, and if so, the subtree to descend into.
type TreeMatch struct {
	Kind    MatchKind
	Subtree *ids.ID
}

// ParentWalker holds the optional parent tree and a stack of
// (tree, node_index) frames, implemented here as a stack of tree finders:
// one per ancestor directory still open.
type ParentWalker struct {
	loader data.BlobLoader
	index  DataIndex

	stack   []*data.TreeFinder
	current *data.TreeFinder
}

// NewParentWalker starts a walker rooted at parentTree. A nil parentTree
// means there is no parent snapshot; every NewTree/Other call then
// reports NotFound.
func NewParentWalker(ctx context.Context, loader data.BlobLoader, index DataIndex, parentTree *ids.ID) (*ParentWalker, error) {
	w := &ParentWalker{loader: loader, index: index}
	if parentTree == nil {
		return w, nil
	}

	tree, err := data.LoadTree(ctx, loader, *parentTree)
	if err != nil {
		return nil, err
	}
	w.current = data.NewTreeFinder(tree)
	return w, nil
}

// NewTree looks up name as a subdirectory of the current parent frame,
// pushes that frame onto the stack, and descends into the matched
// subtree (or an empty one, if none matched).
func (w *ParentWalker) NewTree(ctx context.Context, name string) (TreeMatch, error) {
	match := TreeMatch{Kind: NotFound}

	if w.current != nil {
		sib, err := w.current.Find(name)
		if err != nil {
			return TreeMatch{}, err
		}
		switch {
		case sib == nil:
			match = TreeMatch{Kind: NotFound}
		case sib.Type != data.NodeTypeDir:
			match = TreeMatch{Kind: NotMatched}
		default:
			match = TreeMatch{Kind: Matched, Subtree: sib.Subtree}
		}
	}

	w.stack = append(w.stack, w.current)

	if match.Kind == Matched && match.Subtree != nil {
		tree, err := data.LoadTree(ctx, w.loader, *match.Subtree)
		if err != nil {
			return TreeMatch{}, err
		}
		w.current = data.NewTreeFinder(tree)
	} else {
		w.current = nil
	}
	return match, nil
}

// EndTree pops the frame pushed by the matching NewTree.
func (w *ParentWalker) EndTree() error {
	if len(w.stack) == 0 {
		return ErrTreeStackEmpty
	}
	if w.current != nil {
		w.current.Close()
	}
	n := len(w.stack) - 1
	w.current = w.stack[n]
	w.stack = w.stack[:n]
	return nil
}

// Other classifies a non-directory entry named name against the current
// parent frame. node's Type, Size and ModTime are compared against the
// sibling; Inode is also compared when both sides report a non-zero one,
// and ChangeTime when both sides carry one. On Matched, node.Content
// is populated from the sibling's content ids — but only once every one
// of them is confirmed still present in the index, so a Matched node
// never references a since-pruned blob.
func (w *ParentWalker) Other(node *data.Node, name string) (MatchKind, error) {
	if w.current == nil {
		return NotFound, nil
	}

	sib, err := w.current.Find(name)
	if err != nil {
		return NotFound, err
	}
	if sib == nil {
		return NotFound, nil
	}

	if sib.Type != node.Type || sib.Size != node.Size || !sib.ModTime.Equal(node.ModTime) {
		return NotMatched, nil
	}
	if node.Inode != 0 && sib.Inode != 0 && node.Inode != sib.Inode {
		return NotMatched, nil
	}
	if !node.ChangeTime.IsZero() && !sib.ChangeTime.IsZero() && !sib.ChangeTime.Equal(node.ChangeTime) {
		return NotMatched, nil
	}

	for _, id := range sib.Content {
		if !w.index.Has(data.DataBlob, id) {
			return NotFound, nil
		}
	}

	node.Content = sib.Content
	return Matched, nil
}
