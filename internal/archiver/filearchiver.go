package archiver

import (
	"context"
	"crypto/sha256"
	"io"

	"github.com/rustic-rs/rustic-sub001/internal/chunker"
	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
	"github.com/rustic-rs/rustic-sub001/internal/pack"
)

const chunkerBufSize = 512 * 1024

// FileArchiver streams a file's content through the chunker, hashes each
// chunk, and hands chunks the index doesn't already have to the data
// packer. One FileArchiver is shared by every worker in the backup
// pipeline's file-processing pool.
type FileArchiver struct {
	packer *pack.Packer
	index  pack.ReadIndex
	poly   chunker.Pol
	bufs   *BufferPool
}

// NewFileArchiver returns a FileArchiver writing new chunks through packer.
func NewFileArchiver(packer *pack.Packer, index pack.ReadIndex, poly chunker.Pol) *FileArchiver {
	return &FileArchiver{packer: packer, index: index, poly: poly, bufs: NewBufferPool(32, chunkerBufSize)}
}

// Process reads a single unmatched file entry to completion, populating
// node.Content with the ids of its chunks (new or already-known) and
// returning the number of bytes read.
func (a *FileArchiver) Process(ctx context.Context, entry SourceEntry, node *data.Node) (uint64, error) {
	r, err := entry.Open()
	if err != nil {
		return 0, errors.Wrapf(err, "open %v", entry.Path)
	}
	defer func() { _ = r.Close() }()

	c, err := chunker.New(io.NewSectionReader(r, 0, int64(node.Size)), a.poly, chunkerBufSize, sha256.New())
	if err != nil {
		return 0, errors.Wrap(err, "chunker.New")
	}

	var content ids.IDs
	var total uint64

	for {
		chunk, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, errors.Wrapf(err, "chunking %v", entry.Path)
		}

		buf := a.bufs.Get()
		if cap(buf.Data) < int(chunk.Length) {
			buf.Data = make([]byte, chunk.Length)
		} else {
			buf.Data = buf.Data[:chunk.Length]
		}
		if _, err := io.ReadFull(chunk.Reader(r), buf.Data); err != nil {
			buf.Release()
			return total, errors.Wrapf(err, "reading chunk of %v", entry.Path)
		}

		id := ids.Hash(buf.Data)
		if !a.index.Has(data.DataBlob, id) {
			if err := a.packer.Add(ctx, id, buf.Data); err != nil {
				buf.Release()
				return total, errors.Wrapf(err, "packing chunk of %v", entry.Path)
			}
		}
		buf.Release()

		content = append(content, id)
		total += uint64(chunk.Length)
	}

	node.Content = content
	node.Size = total
	return total, nil
}
