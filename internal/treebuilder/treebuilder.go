// Package treebuilder serializes directories into tree blobs as the
// backup pipeline closes them, one level at a time, bottom-up.
package treebuilder

import (
	"context"

	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// ErrStackEmpty is returned by Pop when it is called without a matching
// Push, an invariant violation in the caller.
var ErrStackEmpty = errors.Fatal("treebuilder: stack underflow")

// Saver persists a finished tree's serialized bytes as a blob.
type Saver interface {
	SaveTreeBlob(ctx context.Context, data []byte) (ids.ID, error)
}

// frame holds one open directory's in-progress tree and the node that
// will represent it in its parent once it closes.
type frame struct {
	path    string
	node    *data.Node
	builder *data.TreeJSONBuilder
}

// Builder holds a stack of open-directory frames; Pop serializes the top
// frame into a tree blob and sets its Dir node's subtree id, and the caller
// then adds that node to the new top frame.
type Builder struct {
	saver Saver
	stack []*frame
}

// New starts a Builder rooted at an implicit top-level directory (not
// itself serialized as a blob; Finalize returns its accumulated tree
// bytes directly).
func New(saver Saver) *Builder {
	b := &Builder{saver: saver}
	b.stack = []*frame{{path: "/", builder: data.NewTreeJSONBuilder()}}
	return b
}

// Push opens a new directory frame named by node (node.Type must be Dir);
// its eventual subtree id is filled into node when Pop closes this frame.
func (b *Builder) Push(path string, node *data.Node) {
	b.stack = append(b.stack, &frame{path: path, node: node, builder: data.NewTreeJSONBuilder()})
}

// AddNode adds a finished (non-directory, or already-closed directory)
// node to the currently open directory.
func (b *Builder) AddNode(node *data.Node) error {
	top := b.stack[len(b.stack)-1]
	return top.builder.AddNode(node)
}

// Pop finalizes the current directory: serializes its accumulated nodes
// into a tree blob, saves it, and sets the subtree id on the node that
// named this directory in its parent (added there via AddNode by the
// caller after Pop returns).
func (b *Builder) Pop(ctx context.Context) error {
	if len(b.stack) <= 1 {
		return ErrStackEmpty
	}

	n := len(b.stack) - 1
	top := b.stack[n]
	b.stack = b.stack[:n]

	body := top.builder.Finalize()
	id, err := b.saver.SaveTreeBlob(ctx, body)
	if err != nil {
		return err
	}
	top.node.Subtree = &id
	return nil
}

// Finalize closes the implicit root frame and returns its serialized tree
// bytes directly, without saving it — the caller (the backup pipeline)
// saves the root tree itself so it can learn the resulting id before
// writing the snapshot.
func (b *Builder) Finalize() ([]byte, error) {
	if len(b.stack) != 1 {
		return nil, errors.Errorf("treebuilder: %d directories still open at Finalize", len(b.stack)-1)
	}
	return b.stack[0].builder.Finalize(), nil
}

// Depth reports how many directories are currently open, for diagnostics.
func (b *Builder) Depth() int { return len(b.stack) - 1 }
