// Package local implements the object-store backend on top of a plain
// local directory tree, sharded the same way every other transport shards
// its remote namespace.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/debug"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// Local is a backend rooted at a directory on the local filesystem.
type Local struct {
	path string
}

var _ backend.Backend = (*Local)(nil)

// Open opens an existing local backend at path.
func Open(path string) *Local {
	return &Local{path: path}
}

func (b *Local) Location() string { return "local:" + b.path }

func (b *Local) SetOption(name, value string) error {
	debug.Log("local backend ignores option %s=%s", name, value)
	return nil
}

func (b *Local) filename(kind backend.Kind, name string) string {
	dir, file := backend.Filename(kind, name)
	if dir == "" {
		return filepath.Join(b.path, file)
	}
	return filepath.Join(b.path, dir, file)
}

// Create makes the directory tree every pack/index/snapshot/key kind needs.
func (b *Local) Create(_ context.Context) error {
	for _, kind := range []backend.Kind{backend.KindKey, backend.KindSnapshot, backend.KindIndex, backend.KindPack} {
		if err := os.MkdirAll(filepath.Join(b.path, kind.String()), 0700); err != nil {
			return errors.Wrap(err, "MkdirAll")
		}
	}
	return os.MkdirAll(b.path, 0700)
}

func (b *Local) ListWithSize(ctx context.Context, kind backend.Kind) ([]backend.PackedBlob, error) {
	if kind == backend.KindConfig {
		fi, err := os.Stat(b.filename(kind, ""))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, errors.Wrap(err, "Stat")
		}
		return []backend.PackedBlob{{Size: uint32(fi.Size())}}, nil
	}

	base := filepath.Join(b.path, kind.String())
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "ReadDir")
	}

	var out []backend.PackedBlob
	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := os.ReadDir(filepath.Join(base, shard.Name()))
		if err != nil {
			return nil, errors.Wrap(err, "ReadDir")
		}
		for _, f := range files {
			id, err := ids.ParseID(f.Name())
			if err != nil {
				continue
			}
			fi, err := f.Info()
			if err != nil {
				return nil, errors.Wrap(err, "Info")
			}
			out = append(out, backend.PackedBlob{ID: id, Size: uint32(fi.Size())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (b *Local) ReadFull(_ context.Context, kind backend.Kind, id ids.ID) ([]byte, error) {
	data, err := os.ReadFile(b.filename(kind, id.String()))
	if err != nil {
		return nil, errors.Wrap(err, "ReadFile")
	}
	return data, nil
}

func (b *Local) ReadPartial(_ context.Context, kind backend.Kind, id ids.ID, _ bool, offset, length uint32) ([]byte, error) {
	f, err := os.Open(b.filename(kind, id.String()))
	if err != nil {
		return nil, errors.Wrap(err, "Open")
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, length)
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "Seek")
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, errors.Wrap(err, "ReadFull")
	}
	return buf, nil
}

func (b *Local) WriteBytes(_ context.Context, kind backend.Kind, id ids.ID, _ bool, data []byte) error {
	finalname := b.filename(kind, id.String())
	if err := os.MkdirAll(filepath.Dir(finalname), 0700); err != nil {
		return errors.Wrap(err, "MkdirAll")
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalname), filepath.Base(finalname)+"-tmp-")
	if err != nil {
		return errors.Wrap(err, "CreateTemp")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "Write")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "Sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "Close")
	}
	if err := os.Rename(tmp.Name(), finalname); err != nil {
		return errors.Wrap(err, "Rename")
	}
	return nil
}

func (b *Local) Remove(_ context.Context, kind backend.Kind, id ids.ID, _ bool) error {
	err := os.Remove(b.filename(kind, id.String()))
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrap(err, "Remove")
}
