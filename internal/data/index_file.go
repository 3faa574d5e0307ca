package data

import (
	"time"

	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// BlobKind distinguishes the two content types a pack can hold.
type BlobKind int

const (
	DataBlob BlobKind = iota
	TreeBlob
)

func (k BlobKind) String() string {
	if k == TreeBlob {
		return "tree"
	}
	return "data"
}

// IndexBlob is one entry of an IndexPack's blob list: where inside the pack
// a blob lives, and (for a compressed entry) its uncompressed length.
type IndexBlob struct {
	ID                 ids.ID   `json:"id"`
	Type               BlobKind `json:"type"`
	Offset             uint32   `json:"offset"`
	Length             uint32   `json:"length"`
	UncompressedLength uint32   `json:"uncompressed_length,omitempty"`
}

// IndexPack describes one pack file: its id, when it was written, its total
// on-disk size, and the blobs packed inside it.
type IndexPack struct {
	ID    ids.ID      `json:"id"`
	Time  time.Time   `json:"time,omitempty"`
	Size  uint32      `json:"size,omitempty"`
	Blobs []IndexBlob `json:"blobs"`
}

// PackDelete records that a pack was found to be entirely unused as of Time.
// Prune holds such a pack for a grace period before actually removing it, in
// case a concurrent backup is still writing to it.
type PackDelete struct {
	ID   ids.ID    `json:"id"`
	Time time.Time `json:"time"`
}

// IndexFile is the JSON structure persisted under backend.KindIndex: the
// packs it describes, plus packs marked for deletion (pending their grace
// period) and the ids of packs that have been superseded by this one.
type IndexFile struct {
	Packs         []IndexPack  `json:"packs"`
	PacksToDelete []PackDelete `json:"packs_to_delete,omitempty"`
	Supersedes    []ids.ID     `json:"supersedes,omitempty"`
}
