// Package pack implements the on-disk pack format: a concatenation of
// encrypted blobs followed by an encrypted, length-prefixed header, and the
// Packer that accumulates blobs into bounded-size packs.
package pack

import (
	"encoding/binary"

	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// header entry tags, per the pack format's four variants.
const (
	tagData     byte = 0
	tagTree     byte = 1
	tagCompData byte = 2
	tagCompTree byte = 3
)

// HeaderLengthSuffix is the width of the trailing little-endian header
// length field every pack file ends with.
const HeaderLengthSuffix = 4

// Entry is one decoded header record: a blob's type, length in the pack
// body, and (if compressed) its uncompressed length. Offset is filled in
// by DecodeHeader as the running prefix sum of prior entries' lengths.
type Entry struct {
	Type               data.BlobKind
	ID                 ids.ID
	Offset             uint32
	Length             uint32
	UncompressedLength uint32
}

// EncodeEntry appends one tagged header record for entry to buf and
// returns the extended slice.
func EncodeEntry(buf []byte, e Entry) []byte {
	compressed := e.UncompressedLength != 0

	var tag byte
	switch {
	case e.Type == data.TreeBlob && compressed:
		tag = tagCompTree
	case e.Type == data.TreeBlob:
		tag = tagTree
	case compressed:
		tag = tagCompData
	default:
		tag = tagData
	}

	buf = append(buf, tag)
	buf = binary.LittleEndian.AppendUint32(buf, e.Length)
	if compressed {
		buf = binary.LittleEndian.AppendUint32(buf, e.UncompressedLength)
	}
	buf = append(buf, e.ID[:]...)
	return buf
}

// DecodeHeader parses a sequence of tagged header records from buf,
// filling in each entry's Offset as the prefix sum of preceding lengths.
func DecodeHeader(buf []byte) ([]Entry, error) {
	var entries []Entry
	var offset uint32

	for len(buf) > 0 {
		tag := buf[0]
		buf = buf[1:]

		var recordLen int
		switch tag {
		case tagData, tagTree:
			recordLen = 4 + 32
		case tagCompData, tagCompTree:
			recordLen = 4 + 4 + 32
		default:
			return nil, errors.Errorf("pack header: unknown entry tag %d", tag)
		}
		if len(buf) < recordLen {
			return nil, errors.Errorf("pack header: truncated entry, want %d bytes, have %d", recordLen, len(buf))
		}

		length := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]

		var ulen uint32
		if tag == tagCompData || tag == tagCompTree {
			ulen = binary.LittleEndian.Uint32(buf)
			buf = buf[4:]
		}

		var id ids.ID
		copy(id[:], buf[:32])
		buf = buf[32:]

		kind := data.DataBlob
		if tag == tagTree || tag == tagCompTree {
			kind = data.TreeBlob
		}

		entries = append(entries, Entry{
			Type:               kind,
			ID:                 id,
			Offset:             offset,
			Length:             length,
			UncompressedLength: ulen,
		})
		offset += length
	}

	return entries, nil
}

// HeaderSize returns the encoded size (before encryption) of entries.
func HeaderSize(entries []Entry) int {
	size := 0
	for _, e := range entries {
		if e.UncompressedLength != 0 {
			size += 1 + 4 + 4 + 32
		} else {
			size += 1 + 4 + 32
		}
	}
	return size
}
