package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"path"
	"strings"

	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// Tree is, conceptually, an ordered list of Nodes; on disk it is stored as
// a single JSON object `{"nodes":[...]}` whose entries are sorted by name,
// which lets TreeFinder scan a listing in order and stop without decoding
// the entries after the one it looks for.
type Tree struct {
	Nodes Nodes `json:"nodes"`
}

// ErrTreeNotOrdered is returned by TreeJSONBuilder.AddNode when a node is
// added out of order or duplicates the previous node's name.
var ErrTreeNotOrdered = errors.New("nodes are not ordered or duplicate")

// NodeOrError is one item produced by a TreeNodeIterator: either a decoded
// Node, or the error that terminated decoding (the final item of a failed
// iteration).
type NodeOrError struct {
	Node  *Node
	Error error
}

// TreeNodeIterator streams a tree's nodes without holding the whole decoded
// tree in memory at once.
type TreeNodeIterator = iter.Seq[NodeOrError]

type treeIterator struct {
	dec     *json.Decoder
	started bool
}

// NewTreeNodeIterator returns a single-use iterator over the nodes encoded
// in rd. Unknown top-level keys before or after "nodes" are tolerated and
// skipped, so a future format revision can add metadata without breaking
// this reader.
func NewTreeNodeIterator(rd io.Reader) (TreeNodeIterator, error) {
	t := &treeIterator{dec: json.NewDecoder(rd)}
	if err := t.init(); err != nil {
		return nil, err
	}

	return func(yield func(NodeOrError) bool) {
		if t.started {
			panic("tree iterator is single use only")
		}
		t.started = true
		for {
			n, err := t.next()
			if err != nil && errors.Is(err, io.EOF) {
				return
			}
			if !yield(NodeOrError{Node: n, Error: err}) {
				return
			}
			if err != nil {
				return
			}
		}
	}, nil
}

func (t *treeIterator) init() error {
	if err := t.assertToken(json.Delim('{')); err != nil {
		return err
	}
	for {
		token, err := t.dec.Token()
		if err != nil {
			return err
		}
		key, ok := token.(string)
		if !ok {
			return errors.Errorf("error decoding tree: expected string key, got %v", token)
		}
		if key == "nodes" {
			return t.assertToken(json.Delim('['))
		}
		var raw json.RawMessage
		if err := t.dec.Decode(&raw); err != nil {
			return err
		}
	}
}

func (t *treeIterator) next() (*Node, error) {
	if t.dec.More() {
		var n Node
		if err := t.dec.Decode(&n); err != nil {
			return nil, err
		}
		return &n, nil
	}

	if err := t.assertToken(json.Delim(']')); err != nil {
		return nil, err
	}
	for {
		token, err := t.dec.Token()
		if err != nil {
			return nil, err
		}
		if token == json.Delim('}') {
			return nil, io.EOF
		}
		var raw json.RawMessage
		if err := t.dec.Decode(&raw); err != nil {
			return nil, err
		}
	}
}

func (t *treeIterator) assertToken(token json.Token) error {
	to, err := t.dec.Token()
	if err != nil {
		return err
	}
	if to != token {
		return errors.Errorf("error decoding tree: expected %v, got %v", token, to)
	}
	return nil
}

// BlobLoader is the minimal repository capability tree.go needs to resolve
// a tree blob id into its bytes.
type BlobLoader interface {
	LoadBlob(ctx context.Context, id ids.ID) ([]byte, error)
}

// BlobSaver is the minimal repository capability tree.go needs to persist a
// serialized tree as a blob.
type BlobSaver interface {
	SaveTreeBlob(ctx context.Context, data []byte) (ids.ID, error)
}

// LoadTree fetches the tree blob named by content and returns an iterator
// over its nodes.
func LoadTree(ctx context.Context, loader BlobLoader, content ids.ID) (TreeNodeIterator, error) {
	rd, err := loader.LoadBlob(ctx, content)
	if err != nil {
		return nil, err
	}
	return NewTreeNodeIterator(bytes.NewReader(rd))
}

// TreeFinder locates individual entries in a tree by decoding it in order
// up to the match; the entries that follow the match are not decoded,
// relying on the on-disk sort order.
type TreeFinder struct {
	next    func() (NodeOrError, bool)
	stop    func()
	current *Node
	last    string
}

// NewTreeFinder wraps tree for repeated, strictly-increasing Find calls.
func NewTreeFinder(tree TreeNodeIterator) *TreeFinder {
	if tree == nil {
		return &TreeFinder{stop: func() {}}
	}
	next, stop := iter.Pull(tree)
	return &TreeFinder{next: next, stop: stop}
}

// Find returns the node named name, or nil if the tree has no such entry.
// Successive calls must use strictly increasing names.
func (t *TreeFinder) Find(name string) (*Node, error) {
	if t.next == nil {
		return nil, nil
	}
	if name <= t.last {
		return nil, errors.Errorf("name %q is not greater than last name %q", name, t.last)
	}
	t.last = name

	for t.current == nil || t.current.Name < name {
		item, ok := t.next()
		if item.Error != nil {
			return nil, item.Error
		}
		if !ok {
			return nil, nil
		}
		t.current = item.Node
	}

	if t.current.Name == name {
		current := t.current
		t.current = nil
		return current, nil
	}
	return nil, nil
}

// Close releases resources held by the underlying iterator.
func (t *TreeFinder) Close() { t.stop() }

// TreeJSONBuilder incrementally serializes a tree's nodes, enforcing the
// sorted-by-name invariant the on-disk format and TreeFinder both depend
// on.
type TreeJSONBuilder struct {
	buf        bytes.Buffer
	lastName   string
	countNodes int
}

// NewTreeJSONBuilder starts a fresh, empty tree.
func NewTreeJSONBuilder() *TreeJSONBuilder {
	b := &TreeJSONBuilder{}
	_, _ = b.buf.WriteString(`{"nodes":[`)
	return b
}

// AddNode appends node, which must sort strictly after every node added so
// far.
func (b *TreeJSONBuilder) AddNode(node *Node) error {
	if node.Name <= b.lastName {
		return fmt.Errorf("node %q, last %q: %w", node.Name, b.lastName, ErrTreeNotOrdered)
	}
	if b.lastName != "" {
		_ = b.buf.WriteByte(',')
	}
	b.lastName = node.Name

	val, err := json.Marshal(node)
	if err != nil {
		return err
	}
	_, _ = b.buf.Write(val)
	b.countNodes++
	return nil
}

// Finalize closes out the JSON object and returns the serialized tree. The
// builder must not be reused afterwards.
func (b *TreeJSONBuilder) Finalize() []byte {
	_, _ = b.buf.WriteString("]}\n")
	buf := b.buf.Bytes()
	b.buf = bytes.Buffer{}
	return buf
}

// Count returns the number of nodes added so far.
func (b *TreeJSONBuilder) Count() int { return b.countNodes }

// FindTreeDirectory walks dir component by component starting at the tree
// named by id, returning the subtree id of the final component.
func FindTreeDirectory(ctx context.Context, loader BlobLoader, id *ids.ID, dir string) (*ids.ID, error) {
	if id == nil {
		return nil, errors.New("tree id is null")
	}

	subfolder := ""
	for _, name := range strings.Split(path.Clean(dir), "/") {
		if name == "" || name == "." {
			continue
		}
		subfolder = path.Join(subfolder, name)

		tree, err := LoadTree(ctx, loader, *id)
		if err != nil {
			return nil, fmt.Errorf("path %s: %w", subfolder, err)
		}
		finder := NewTreeFinder(tree)
		node, err := finder.Find(name)
		finder.Close()
		if err != nil {
			return nil, fmt.Errorf("path %s: %w", subfolder, err)
		}
		if node == nil {
			return nil, fmt.Errorf("path %s: not found", subfolder)
		}
		if node.Type != NodeTypeDir || node.Subtree == nil {
			return nil, fmt.Errorf("path %s: not a directory", subfolder)
		}
		id = node.Subtree
	}
	return id, nil
}
