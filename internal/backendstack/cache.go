package backendstack

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/debug"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

const cachedirTagSignature = "Signature: 8a477f597d28d172789f06886806bc55\n"

// Cache mirrors reads of small, frequently-fetched files (index, snapshot,
// key, config) into a local directory so repeated reads avoid the network.
// Pack data is never cached. The mirror directory is tagged with a
// CACHEDIR.TAG so backup tools leave it out of their own backups.
type Cache struct {
	next backend.Backend
	dir  string
}

var _ backend.Backend = (*Cache)(nil)

// NewCache roots the cache mirror at dir, which is created (along with its
// CACHEDIR.TAG) if it does not already exist.
func NewCache(next backend.Backend, dir string) (*Cache, error) {
	if err := writeCachedirTag(dir); err != nil {
		return nil, err
	}
	return &Cache{next: next, dir: dir}, nil
}

func writeCachedirTag(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "MkdirAll")
	}

	tagfile := filepath.Join(dir, "CACHEDIR.TAG")
	if _, err := os.Stat(tagfile); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "Stat")
	}

	return errors.Wrap(os.WriteFile(tagfile, []byte(cachedirTagSignature), 0644), "WriteFile")
}

func cacheable(kind backend.Kind) bool {
	switch kind {
	case backend.KindIndex, backend.KindSnapshot, backend.KindKey, backend.KindConfig:
		return true
	default:
		return false
	}
}

func (c *Cache) cachePath(kind backend.Kind, id ids.ID) string {
	dir, file := backend.Filename(kind, id.String())
	if dir == "" {
		return filepath.Join(c.dir, file)
	}
	return filepath.Join(c.dir, dir, file)
}

func (c *Cache) Location() string { return c.next.Location() }

func (c *Cache) SetOption(name, value string) error { return c.next.SetOption(name, value) }

func (c *Cache) Create(ctx context.Context) error { return c.next.Create(ctx) }

// ListWithSize lists the backend, then drops any cached copy that is no
// longer present in that listing or whose cached size disagrees, so the
// cache never serves stale data after a prune.
func (c *Cache) ListWithSize(ctx context.Context, kind backend.Kind) ([]backend.PackedBlob, error) {
	entries, err := c.next.ListWithSize(ctx, kind)
	if err != nil {
		return nil, err
	}
	if !cacheable(kind) {
		return entries, nil
	}

	live := make(map[ids.ID]uint32, len(entries))
	for _, e := range entries {
		live[e.ID] = e.Size
	}

	base := filepath.Join(c.dir, kind.String())
	shards, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, errors.Wrap(err, "ReadDir")
	}
	for _, shard := range shards {
		shardDir := filepath.Join(base, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			id, err := ids.ParseID(f.Name())
			if err != nil {
				continue
			}
			fi, err := f.Info()
			if err != nil {
				continue
			}
			size, ok := live[id]
			if !ok || uint32(fi.Size()) != size {
				_ = os.Remove(filepath.Join(shardDir, f.Name()))
				debug.Log("cache: evicted stale %v/%v", kind, id)
			}
		}
	}
	return entries, nil
}

func (c *Cache) ReadFull(ctx context.Context, kind backend.Kind, id ids.ID) ([]byte, error) {
	if !cacheable(kind) {
		return c.next.ReadFull(ctx, kind, id)
	}

	if data, err := os.ReadFile(c.cachePath(kind, id)); err == nil {
		return data, nil
	}

	data, err := c.next.ReadFull(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	c.store(kind, id, data)
	return data, nil
}

func (c *Cache) ReadPartial(ctx context.Context, kind backend.Kind, id ids.ID, cacheable bool, offset, length uint32) ([]byte, error) {
	return c.next.ReadPartial(ctx, kind, id, cacheable, offset, length)
}

// store writes data into the mirror best-effort: a cache write failure must
// never fail the caller's read.
func (c *Cache) store(kind backend.Kind, id ids.ID, data []byte) {
	path := c.cachePath(kind, id)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		debug.Log("cache: MkdirAll failed: %v", err)
		return
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		debug.Log("cache: WriteFile failed: %v", err)
	}
}

func (c *Cache) WriteBytes(ctx context.Context, kind backend.Kind, id ids.ID, cacheableHint bool, data []byte) error {
	if err := c.next.WriteBytes(ctx, kind, id, cacheableHint, data); err != nil {
		return err
	}
	if cacheable(kind) {
		c.store(kind, id, data)
	}
	return nil
}

// CachedIDs lists the ids of kind currently mirrored on disk, without
// consulting the backend. The checker uses this to find cached copies worth
// byte-comparing against the backend's.
func (c *Cache) CachedIDs(kind backend.Kind) ([]ids.ID, error) {
	base := filepath.Join(c.dir, kind.String())
	shards, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "ReadDir")
	}

	var out []ids.ID
	for _, shard := range shards {
		files, err := os.ReadDir(filepath.Join(base, shard.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			id, err := ids.ParseID(f.Name())
			if err != nil {
				continue
			}
			out = append(out, id)
		}
	}
	return out, nil
}

// ReadCached returns the raw bytes mirrored on disk for kind/id, without
// falling back to the backend.
func (c *Cache) ReadCached(kind backend.Kind, id ids.ID) ([]byte, error) {
	return os.ReadFile(c.cachePath(kind, id))
}

func (c *Cache) Remove(ctx context.Context, kind backend.Kind, id ids.ID, cacheableHint bool) error {
	if err := c.next.Remove(ctx, kind, id, cacheableHint); err != nil {
		return err
	}
	if cacheable(kind) {
		_ = os.Remove(c.cachePath(kind, id))
	}
	return nil
}
