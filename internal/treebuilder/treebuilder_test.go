package treebuilder

import (
	"context"
	"testing"

	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

type fakeSaver struct {
	saved map[string][]byte
}

func newFakeSaver() *fakeSaver { return &fakeSaver{saved: map[string][]byte{}} }

func (f *fakeSaver) SaveTreeBlob(_ context.Context, body []byte) (ids.ID, error) {
	id := ids.Hash(body)
	f.saved[id.String()] = body
	return id, nil
}

func TestBuilderSavesLeafDirectoryOnPop(t *testing.T) {
	ctx := context.Background()
	saver := newFakeSaver()
	b := New(saver)

	dirNode := &data.Node{Name: "sub", Type: data.NodeTypeDir}
	b.Push("/sub", dirNode)

	if err := b.AddNode(&data.Node{Name: "file.txt", Type: data.NodeTypeFile, Size: 3}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	if err := b.Pop(ctx); err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if dirNode.Subtree == nil {
		t.Fatalf("expected dirNode.Subtree to be set after Pop")
	}
	if _, ok := saver.saved[dirNode.Subtree.String()]; !ok {
		t.Fatalf("expected subtree blob to have been saved")
	}
}

func TestBuilderNestedDirectoriesBuildBottomUp(t *testing.T) {
	ctx := context.Background()
	saver := newFakeSaver()
	b := New(saver)

	outer := &data.Node{Name: "outer", Type: data.NodeTypeDir}
	b.Push("/outer", outer)

	inner := &data.Node{Name: "inner", Type: data.NodeTypeDir}
	b.Push("/outer/inner", inner)

	if err := b.AddNode(&data.Node{Name: "leaf.txt", Type: data.NodeTypeFile, Size: 1}); err != nil {
		t.Fatalf("AddNode leaf: %v", err)
	}
	if err := b.Pop(ctx); err != nil { // closes inner
		t.Fatalf("Pop inner: %v", err)
	}
	if inner.Subtree == nil {
		t.Fatalf("expected inner.Subtree set")
	}

	if err := b.AddNode(inner); err != nil {
		t.Fatalf("AddNode inner into outer: %v", err)
	}
	if err := b.Pop(ctx); err != nil { // closes outer
		t.Fatalf("Pop outer: %v", err)
	}
	if outer.Subtree == nil {
		t.Fatalf("expected outer.Subtree set")
	}
	if outer.Subtree.Equal(*inner.Subtree) {
		t.Fatalf("outer and inner subtrees must differ")
	}

	root, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(root) == 0 {
		t.Fatalf("expected non-empty root tree bytes")
	}
}

func TestBuilderPopWithoutPushIsStackUnderflow(t *testing.T) {
	b := New(newFakeSaver())
	if err := b.Pop(context.Background()); err == nil {
		t.Fatalf("expected stack underflow error")
	}
}

func TestBuilderFinalizeWithOpenDirectoriesErrors(t *testing.T) {
	b := New(newFakeSaver())
	b.Push("/sub", &data.Node{Name: "sub", Type: data.NodeTypeDir})
	if _, err := b.Finalize(); err == nil {
		t.Fatalf("expected error finalizing with an open directory")
	}
}
