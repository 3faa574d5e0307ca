// Package repository ties together a backend, the crypto/zstd encoding
// layer, and the index into the single handle the rest of the system
// (archiver, checker, prune) operates against, and handles the on-disk
// bootstrapping (config file, key files) that turns a bare backend into a
// usable repository.
package repository

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/backendstack"
	"github.com/rustic-rs/rustic-sub001/internal/chunker"
	"github.com/rustic-rs/rustic-sub001/internal/crypto"
	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
	"github.com/rustic-rs/rustic-sub001/internal/index"
)

// Repository is an opened, unlocked repository: a backend, the encrypted
// store on top of it, and the master key, with the current index loaded.
type Repository struct {
	be      backend.Backend
	store   backendstack.EncryptedStore
	cache   *backendstack.Cache
	hotCold backend.Backend // the backend as wrapped by maybeHotCold, before caching
	key     *crypto.Key
	cfg     data.Config

	idx      *index.Index
	packs    []data.IndexPack
	indexIDs ids.IDs
	deleted  []data.PackDelete
}

// Compress controls whether newly written blobs are zstd-compressed before
// encryption: format version 2 and above compress unless the config
// explicitly disables it (data.Config.CompressionLevel set to 0).
func (r *Repository) Compress() bool { return r.cfg.Compress() }

func (r *Repository) Backend() backend.Backend           { return r.be }
func (r *Repository) Store() backendstack.EncryptedStore { return r.store }
func (r *Repository) Key() *crypto.Key                   { return r.key }
func (r *Repository) Config() data.Config                { return r.cfg }
func (r *Repository) Index() *index.Index                { return r.idx }
func (r *Repository) Packs() []data.IndexPack            { return r.packs }
func (r *Repository) PacksToDelete() []data.PackDelete   { return r.deleted }
func (r *Repository) Cache() *backendstack.Cache         { return r.cache }

// HotCold returns the hot/cold decorator this repository was opened with,
// or nil if it isn't using a hot/cold split.
func (r *Repository) HotCold() *backendstack.HotCold {
	hc, _ := r.hotCold.(*backendstack.HotCold)
	return hc
}

// Has implements pack.ReadIndex.
func (r *Repository) Has(kind data.BlobKind, id ids.ID) bool { return r.idx.Has(kind, id) }

// LoadBlob implements data.BlobLoader, resolving a tree blob's plaintext
// through the current index.
func (r *Repository) LoadBlob(ctx context.Context, id ids.ID) ([]byte, error) {
	e, ok := r.idx.Get(data.TreeBlob, id)
	if !ok {
		return nil, errors.Errorf("tree blob %v not found in index", id)
	}
	return index.ReadData(ctx, r.store, data.TreeBlob, e)
}

// Create initializes a fresh, empty repository on be: a random repository
// id, a chunker polynomial (freshly drawn unless poly is non-zero, e.g.
// when copying it from another repository), and one key file wrapping a
// new random master key with password. If hot is non-nil, be is treated as
// the cold tier and backendstack.HotCold mirrors every write except config
// and non-cacheable packs into hot. If cacheDir is non-empty, reads and writes of
// small file kinds are additionally mirrored through a local cache there.
func Create(ctx context.Context, hot, be backend.Backend, password string, poly chunker.Pol, cacheDir string) (*Repository, error) {
	be = maybeHotCold(hot, be)
	hotCold := be

	if err := be.Create(ctx); err != nil {
		return nil, errors.Wrap(err, "create backend")
	}

	cache, be, err := maybeCache(be, cacheDir)
	if err != nil {
		return nil, err
	}

	if poly == 0 {
		var err error
		poly, err = chunker.RandomPolynomial()
		if err != nil {
			return nil, errors.Wrap(err, "RandomPolynomial")
		}
	}

	key, err := createKey(ctx, be, password, "")
	if err != nil {
		return nil, errors.Wrap(err, "createKey")
	}

	store, err := backendstack.NewCryptZstd(be, key, true, 0)
	if err != nil {
		return nil, errors.Wrap(err, "NewCryptZstd")
	}

	isHot := hot != nil
	cfg := data.Config{
		Version:           data.RepositoryFormatVersion,
		ID:                ids.Hash(crypto.NewSalt()).String(),
		ChunkerPolynomial: poly,
		IsHot:             &isHot,
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "marshal config")
	}
	ciphertext, err := key.Encrypt(nil, body)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt config")
	}
	if err := be.WriteBytes(ctx, backend.KindConfig, ids.ID{}, true, ciphertext); err != nil {
		return nil, errors.Wrap(err, "write config")
	}

	return &Repository{
		be:      be,
		store:   store,
		cache:   cache,
		hotCold: hotCold,
		key:     key,
		cfg:     cfg,
		idx:     index.New(index.Full, nil),
	}, nil
}

// Open unlocks an existing repository on be with password and loads its
// current index. If hot is non-nil, be is treated as the cold tier and
// reads/writes are split across both via backendstack.HotCold. If cacheDir
// is non-empty, reads and writes of small file kinds are additionally
// mirrored through a local cache there.
func Open(ctx context.Context, hot, be backend.Backend, password, cacheDir string) (*Repository, error) {
	be = maybeHotCold(hot, be)
	hotCold := be

	cache, be, err := maybeCache(be, cacheDir)
	if err != nil {
		return nil, err
	}

	key, err := openKey(ctx, be, password)
	if err != nil {
		return nil, err
	}

	ciphertext, err := be.ReadFull(ctx, backend.KindConfig, ids.ID{})
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	plaintext := make([]byte, len(ciphertext))
	n, err := key.Decrypt(plaintext, ciphertext)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt config")
	}
	var cfg data.Config
	if err := json.Unmarshal(plaintext[:n], &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	store, err := backendstack.NewCryptZstd(be, key, cfg.Compress(), cfg.ZstdLevel())
	if err != nil {
		return nil, errors.Wrap(err, "NewCryptZstd")
	}

	r := &Repository{be: be, store: store, cache: cache, hotCold: hotCold, key: key, cfg: cfg}
	if err := r.reloadIndex(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// maybeHotCold wraps cold in a backendstack.HotCold paired with hot,
// unless hot is nil, in which case cold is returned unchanged.
func maybeHotCold(hot, cold backend.Backend) backend.Backend {
	if hot == nil {
		return cold
	}
	return backendstack.NewHotCold(hot, cold)
}

// maybeCache wraps be in a local cache mirror rooted at cacheDir, unless
// cacheDir is empty, in which case be is returned unchanged and the
// returned *backendstack.Cache is nil.
func maybeCache(be backend.Backend, cacheDir string) (*backendstack.Cache, backend.Backend, error) {
	if cacheDir == "" {
		return nil, be, nil
	}
	c, err := backendstack.NewCache(be, cacheDir)
	if err != nil {
		return nil, nil, errors.Wrap(err, "NewCache")
	}
	return c, c, nil
}

// reloadIndex reads every index file currently in the backend and merges
// them into a single in-memory index.
func (r *Repository) reloadIndex(ctx context.Context) error {
	listed, err := r.be.ListWithSize(ctx, backend.KindIndex)
	if err != nil {
		return errors.Wrap(err, "list index files")
	}

	var allPacks []data.IndexPack
	var allDeleted []data.PackDelete
	var indexIDs ids.IDs
	for _, entry := range listed {
		body, err := r.store.ReadEncryptedFull(ctx, backend.KindIndex, entry.ID)
		if err != nil {
			return errors.Wrapf(err, "read index %v", entry.ID)
		}
		var file data.IndexFile
		if err := json.Unmarshal(body, &file); err != nil {
			return errors.Wrapf(err, "unmarshal index %v", entry.ID)
		}
		allPacks = append(allPacks, file.Packs...)
		allDeleted = append(allDeleted, file.PacksToDelete...)
		indexIDs = append(indexIDs, entry.ID)
	}

	r.packs = allPacks
	r.deleted = allDeleted
	r.indexIDs = indexIDs
	r.idx = index.New(index.Full, allPacks)
	return nil
}

// Reload re-reads every index file in the backend, picking up packs a
// concurrent writer (or this repository's own prior Execute call) has
// added since the repository was opened.
func (r *Repository) Reload(ctx context.Context) error { return r.reloadIndex(ctx) }

// IndexIDs returns the ids of every index file the current in-memory index
// was merged from; prune.Execute takes this as the set it supersedes.
func (r *Repository) IndexIDs() ids.IDs { return append(ids.IDs{}, r.indexIDs...) }

// Snapshot reads and decodes a single snapshot by id.
func (r *Repository) Snapshot(ctx context.Context, id ids.ID) (*data.Snapshot, error) {
	body, err := r.store.ReadEncryptedFull(ctx, backend.KindSnapshot, id)
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot %v", id)
	}
	var sn data.Snapshot
	if err := json.Unmarshal(body, &sn); err != nil {
		return nil, errors.Wrapf(err, "unmarshal snapshot %v", id)
	}
	sn.SetID(id)
	return &sn, nil
}

// Snapshots lists and decodes every snapshot in the repository, sorted by
// time ascending.
func (r *Repository) Snapshots(ctx context.Context) ([]*data.Snapshot, error) {
	listed, err := r.be.ListWithSize(ctx, backend.KindSnapshot)
	if err != nil {
		return nil, errors.Wrap(err, "list snapshots")
	}

	sns := make([]*data.Snapshot, 0, len(listed))
	for _, entry := range listed {
		sn, err := r.Snapshot(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
		sns = append(sns, sn)
	}
	sort.Slice(sns, func(i, j int) bool { return sns[i].Time.Before(sns[j].Time) })
	return sns, nil
}

// DeleteSnapshot removes a single snapshot record. It does not reclaim the
// space the snapshot's data occupied; that is prune's job.
func (r *Repository) DeleteSnapshot(ctx context.Context, id ids.ID) error {
	return r.be.Remove(ctx, backend.KindSnapshot, id, true)
}

// LatestSnapshot returns the most recent snapshot whose Paths and Hostname
// match, for use as a backup's parent. It returns nil, nil if none match.
func (r *Repository) LatestSnapshot(ctx context.Context, paths []string, hostname string) (*data.Snapshot, error) {
	sns, err := r.Snapshots(ctx)
	if err != nil {
		return nil, err
	}
	var latest *data.Snapshot
	for _, sn := range sns {
		if hostname != "" && sn.Hostname != hostname {
			continue
		}
		if !samePaths(sn.Paths, paths) {
			continue
		}
		if latest == nil || sn.Time.After(latest.Time) {
			latest = sn
		}
	}
	return latest, nil
}

func samePaths(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string{}, a...)
	sb := append([]string{}, b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
