package archiver

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rustic-rs/rustic-sub001/internal/backend/mem"
	"github.com/rustic-rs/rustic-sub001/internal/crypto"
	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
	"github.com/rustic-rs/rustic-sub001/internal/pack"
)

type alwaysEmptyIndex struct{}

func (alwaysEmptyIndex) Has(data.BlobKind, ids.ID) bool { return false }

func TestFileArchiverProcessChunksAndPopulatesContent(t *testing.T) {
	ctx := context.Background()
	be := mem.New()
	key := crypto.NewRandomKey()
	indexer := &collectingIndexer{env: &testEnv{}}

	packer, err := pack.NewPacker(be, key, false, data.DataBlob, pack.DefaultDataSizeParams, alwaysEmptyIndex{}, indexer)
	if err != nil {
		t.Fatalf("NewPacker: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	content := bytes.Repeat([]byte("0123456789abcdef"), 4096) // 64KiB, below chunker.MinSize, so a single chunk
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fa := NewFileArchiver(packer, alwaysEmptyIndex{}, testPolynomial)
	node := &data.Node{Name: "payload.bin", Type: data.NodeTypeFile, Size: uint64(len(content))}

	entry := SourceEntry{Path: path, Open: func() (ReaderAt, error) { return os.Open(path) }}
	total, err := fa.Process(ctx, entry, node)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if total != uint64(len(content)) {
		t.Fatalf("total = %d, want %d", total, len(content))
	}
	if len(node.Content) == 0 {
		t.Fatal("node.Content is empty after Process")
	}
	if node.Size != uint64(len(content)) {
		t.Fatalf("node.Size = %d, want %d", node.Size, len(content))
	}

	if _, err := packer.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}
