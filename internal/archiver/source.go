package archiver

import (
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sort"

	"github.com/rustic-rs/rustic-sub001/internal/data"
)

// SourceEntry is one item produced by walking the filesystem: the node's
// path relative to the scan root it came from (joined under targetName),
// its metadata, and (for files) a lazy opener so unreadable files don't
// abort the whole scan.
type SourceEntry struct {
	Path string
	Node *data.Node
	Open func() (ReaderAt, error)
	Err  error
}

// ReaderAt is what the chunker and block-region readers need from an open
// file; *os.File satisfies it.
type ReaderAt interface {
	io.ReaderAt
	io.Closer
}

// SelectFunc reports whether path should be included in the backup; a
// false for a directory skips its entire subtree.
type SelectFunc func(path string, fi os.FileInfo) bool

// Walk returns a lazy, name-sorted, depth-first source iterator over
// targets. Each target is backed up under targetName (its base name) so
// the snapshot tree has a stable root regardless of the absolute path it
// was taken from.
func Walk(targets []string, selectFn SelectFunc) iter.Seq[SourceEntry] {
	if selectFn == nil {
		selectFn = func(string, os.FileInfo) bool { return true }
	}
	sorted := append([]string(nil), targets...)
	sort.Strings(sorted)

	return func(yield func(SourceEntry) bool) {
		for _, target := range sorted {
			abs, err := filepath.Abs(target)
			if err != nil {
				if !yield(SourceEntry{Path: target, Err: err}) {
					return
				}
				continue
			}
			if !walkOne(abs, filepath.Base(abs), selectFn, yield) {
				return
			}
		}
	}
}

func walkOne(absPath, snPath string, selectFn SelectFunc, yield func(SourceEntry) bool) bool {
	fi, err := os.Lstat(absPath)
	if err != nil {
		return yield(SourceEntry{Path: snPath, Err: err})
	}
	if !selectFn(absPath, fi) {
		return true
	}

	node, err := nodeFromFileInfo(absPath, fi)
	if err != nil {
		return yield(SourceEntry{Path: snPath, Err: err})
	}
	node.Name = filepath.Base(snPath)

	if fi.IsDir() {
		if !yield(SourceEntry{Path: snPath, Node: node}) {
			return false
		}

		entries, err := os.ReadDir(absPath)
		if err != nil {
			return yield(SourceEntry{Path: snPath, Err: fmt.Errorf("%s: %w", snPath, err)})
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		sort.Strings(names)

		for _, name := range names {
			if !walkOne(filepath.Join(absPath, name), filepath.Join(snPath, name), selectFn, yield) {
				return false
			}
		}
		return true
	}

	entry := SourceEntry{Path: snPath, Node: node}
	if node.Type == data.NodeTypeFile {
		p := absPath
		entry.Open = func() (ReaderAt, error) { return os.Open(p) }
	}
	return yield(entry)
}
