package walker

import (
	"context"
	"testing"
	"time"

	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

type fakeLoader struct {
	trees map[ids.ID][]byte
}

func (f fakeLoader) LoadBlob(_ context.Context, id ids.ID) ([]byte, error) {
	return f.trees[id], nil
}

type fakeIndex struct{ known map[ids.ID]bool }

func (f fakeIndex) Has(_ data.BlobKind, id ids.ID) bool { return f.known[id] }

func buildTree(t *testing.T, nodes ...*data.Node) []byte {
	t.Helper()
	b := data.NewTreeJSONBuilder()
	for _, n := range nodes {
		if err := b.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	return b.Finalize()
}

func TestParentWalkerMatchesUnchangedFile(t *testing.T) {
	mtime := time.Unix(1000, 0)
	contentID := ids.Hash([]byte("file contents"))

	rootTreeBytes := buildTree(t, &data.Node{Name: "a.txt", Type: data.NodeTypeFile, Size: 5, ModTime: mtime, Content: ids.IDs{contentID}})
	rootID := ids.Hash(rootTreeBytes)

	loader := fakeLoader{trees: map[ids.ID][]byte{rootID: rootTreeBytes}}
	idx := fakeIndex{known: map[ids.ID]bool{contentID: true}}

	w, err := NewParentWalker(context.Background(), loader, idx, &rootID)
	if err != nil {
		t.Fatalf("NewParentWalker: %v", err)
	}

	node := &data.Node{Name: "a.txt", Type: data.NodeTypeFile, Size: 5, ModTime: mtime}
	kind, err := w.Other(node, "a.txt")
	if err != nil {
		t.Fatalf("Other: %v", err)
	}
	if kind != Matched {
		t.Fatalf("expected Matched, got %v", kind)
	}
	if len(node.Content) != 1 || node.Content[0] != contentID {
		t.Fatalf("expected content reused, got %v", node.Content)
	}
}

func TestParentWalkerNotMatchedOnSizeChange(t *testing.T) {
	mtime := time.Unix(1000, 0)
	rootTreeBytes := buildTree(t, &data.Node{Name: "a.txt", Type: data.NodeTypeFile, Size: 5, ModTime: mtime})
	rootID := ids.Hash(rootTreeBytes)

	loader := fakeLoader{trees: map[ids.ID][]byte{rootID: rootTreeBytes}}
	w, err := NewParentWalker(context.Background(), loader, fakeIndex{known: map[ids.ID]bool{}}, &rootID)
	if err != nil {
		t.Fatalf("NewParentWalker: %v", err)
	}

	node := &data.Node{Name: "a.txt", Type: data.NodeTypeFile, Size: 9, ModTime: mtime}
	kind, err := w.Other(node, "a.txt")
	if err != nil {
		t.Fatalf("Other: %v", err)
	}
	if kind != NotMatched {
		t.Fatalf("expected NotMatched, got %v", kind)
	}
}

func TestParentWalkerNewTreeAndEndTree(t *testing.T) {
	subTreeBytes := buildTree(t, &data.Node{Name: "inner.txt", Type: data.NodeTypeFile, Size: 1})
	subID := ids.Hash(subTreeBytes)
	rootTreeBytes := buildTree(t, &data.Node{Name: "sub", Type: data.NodeTypeDir, Subtree: &subID})
	rootID := ids.Hash(rootTreeBytes)

	loader := fakeLoader{trees: map[ids.ID][]byte{rootID: rootTreeBytes, subID: subTreeBytes}}
	w, err := NewParentWalker(context.Background(), loader, fakeIndex{known: map[ids.ID]bool{}}, &rootID)
	if err != nil {
		t.Fatalf("NewParentWalker: %v", err)
	}

	match, err := w.NewTree(context.Background(), "sub")
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	if match.Kind != Matched {
		t.Fatalf("expected Matched dir, got %v", match.Kind)
	}

	node := &data.Node{Name: "inner.txt", Type: data.NodeTypeFile, Size: 1}
	kind, err := w.Other(node, "inner.txt")
	if err != nil {
		t.Fatalf("Other: %v", err)
	}
	if kind != Matched {
		t.Fatalf("expected inner file matched, got %v", kind)
	}

	if err := w.EndTree(); err != nil {
		t.Fatalf("EndTree: %v", err)
	}
	if err := w.EndTree(); err == nil {
		t.Fatalf("expected stack underflow error on extra EndTree")
	}
}
