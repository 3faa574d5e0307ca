package archiver

import (
	"context"

	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
	"github.com/rustic-rs/rustic-sub001/internal/pack"
	"github.com/rustic-rs/rustic-sub001/internal/walker"
)

// treeSaver adapts a tree-kind Packer plus the repository's index into
// treebuilder.Saver: compute the serialized tree's content id, and only
// pack it if that id isn't already known.
type treeSaver struct {
	packer *pack.Packer
	index  pack.ReadIndex
}

func (s *treeSaver) SaveTreeBlob(ctx context.Context, body []byte) (ids.ID, error) {
	id := ids.Hash(body)
	if s.index.Has(data.TreeBlob, id) {
		return id, nil
	}
	if err := s.packer.Add(ctx, id, body); err != nil {
		return ids.ID{}, err
	}
	return id, nil
}

// classifyTree turns a directory's NewTree match and the id its contents
// actually serialized to into one of the three summary buckets.
func classifyTree(match walker.MatchKind, parentSubtree *ids.ID, id ids.ID) (newDir, changedDir, unmodifiedDir bool) {
	switch {
	case match == walker.Matched && parentSubtree != nil && *parentSubtree == id:
		return false, false, true
	case match == walker.NotFound:
		return true, false, false
	default:
		return false, true, false
	}
}
