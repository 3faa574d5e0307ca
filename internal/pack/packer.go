package pack

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/crypto"
	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/debug"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

const gibibyte = 1 << 30

// SizeParams controls one kind's pack sizing policy: the nominal target T,
// a grow factor g that lets the target climb as more of this kind's data
// accumulates, and a hard limit L.
type SizeParams struct {
	Target     uint64
	GrowFactor float64
	Limit      uint64
}

// DefaultDataSizeParams and DefaultTreeSizeParams mirror the sizes restic
// itself tunes: trees stay small since every backup rereads unchanged
// ones, data packs are allowed to grow much larger as a repository ages.
var (
	DefaultDataSizeParams = SizeParams{Target: 32 * 1024 * 1024, GrowFactor: 1, Limit: 128 * 1024 * 1024}
	DefaultTreeSizeParams = SizeParams{Target: 4 * 1024 * 1024, GrowFactor: 0.5, Limit: 16 * 1024 * 1024}
)

// SizeParamsFromConfig derives kind's pack-size policy from a repository's
// Config, falling back to DefaultDataSizeParams/DefaultTreeSizeParams for
// whichever fields the config leaves unset, so a repository that never
// recorded an explicit policy keeps behaving exactly as before this config
// plumbing existed.
func SizeParamsFromConfig(cfg data.Config, kind data.BlobKind) SizeParams {
	p := DefaultDataSizeParams
	size, grow, limit := cfg.DataPackSize, cfg.DataPackGrowFactor, cfg.DataPackSizeLimit
	if kind == data.TreeBlob {
		p = DefaultTreeSizeParams
		size, grow, limit = cfg.TreePackSize, cfg.TreePackGrowFactor, cfg.TreePackSizeLimit
	}

	if size != nil {
		p.Target = uint64(*size)
	}
	if grow != nil {
		p.GrowFactor = float64(*grow) / 1024
	}
	if limit != nil && *limit != 0 {
		p.Limit = uint64(*limit)
	}
	return p
}

// effectiveTarget computes T*(1+g*sqrt(totalSize/1GiB)) clamped to L.
func (p SizeParams) effectiveTarget(totalSize uint64) uint64 {
	grown := float64(p.Target) * (1 + p.GrowFactor*math.Sqrt(float64(totalSize)/gibibyte))
	t := uint64(grown)
	if t > p.Limit {
		return p.Limit
	}
	return t
}

// ReadIndex is the read-only view into the repository's committed index
// that Add consults before accepting a blob, so blobs already durable from
// a prior run are never repacked.
type ReadIndex interface {
	Has(kind data.BlobKind, id ids.ID) bool
}

// Indexer receives one IndexPack per pack the Packer finalizes.
type Indexer interface {
	AddPack(ctx context.Context, pack data.IndexPack) error
}

// Stats summarizes what a Packer finalized over its lifetime.
type Stats struct {
	PacksWritten int
	BlobsWritten int
	BytesWritten uint64
}

type job struct {
	id         ids.ID
	ciphertext []byte
	ulen       uint32
}

// Packer accumulates plaintext blobs of a single kind into bounded-size
// encrypted packs and streams them to be, updating indexer as each pack
// finalizes. One instance is shared across every producer goroutine for
// its kind.
type Packer struct {
	be       backend.Backend
	key      *crypto.Key
	compress bool
	kind     data.BlobKind
	sizing   SizeParams
	index    ReadIndex
	indexer  Indexer

	totalSize uint64 // accumulated bytes of this kind seen so far, for sizing
	seen      *xsync.MapOf[ids.ID, struct{}]

	jobs chan job
	done chan struct{}
	wg   sync.WaitGroup

	encoder *zstd.Encoder

	mu    sync.Mutex
	stats Stats
	err   error
}

// NewPacker starts a Packer of the given kind, writing finalized packs to
// be and reporting new packs to indexer. Call Finalize to flush the last
// in-flight pack and stop the worker.
func NewPacker(be backend.Backend, key *crypto.Key, compress bool, kind data.BlobKind, sizing SizeParams, index ReadIndex, indexer Indexer) (*Packer, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderCRC(false),
		zstd.WithWindowSize(512*1024),
	)
	if err != nil {
		return nil, errors.Wrap(err, "zstd.NewWriter")
	}

	p := &Packer{
		be:       be,
		key:      key,
		compress: compress,
		kind:     kind,
		sizing:   sizing,
		index:    index,
		indexer:  indexer,
		seen:     xsync.NewMapOf[ids.ID, struct{}](),
		jobs:     make(chan job, 64),
		done:     make(chan struct{}),
		encoder:  enc,
	}
	p.wg.Add(1)
	go p.worker()
	return p, nil
}

// Add encrypts (and optionally compresses) plaintext and hands it to the
// packer's serializing worker. It is idempotent: a blob already seen this
// session, or already present in the read-only index, is silently skipped.
func (p *Packer) Add(ctx context.Context, id ids.ID, plaintext []byte) error {
	if p.index.Has(p.kind, id) {
		return nil
	}
	if _, loaded := p.seen.LoadOrStore(id, struct{}{}); loaded {
		return nil
	}

	body := plaintext
	var ulen uint32
	if p.compress {
		ulen = uint32(len(plaintext))
		body = p.encoder.EncodeAll(plaintext, make([]byte, 0, len(plaintext)))
	}

	ciphertext, err := p.key.Encrypt(nil, body)
	if err != nil {
		return errors.Wrap(err, "Encrypt")
	}

	select {
	case p.jobs <- job{id: id, ciphertext: ciphertext, ulen: ulen}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return p.workerErr()
	}
}

func (p *Packer) workerErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// worker is the single serializing consumer: it owns the in-flight pack
// buffer, so blob order inside a pack matches producer send order even
// though producers race to encrypt concurrently.
func (p *Packer) worker() {
	defer p.wg.Done()

	var body []byte
	var entries []Entry

	flush := func() {
		if len(entries) == 0 {
			return
		}
		if err := p.writePack(body, entries); err != nil {
			p.mu.Lock()
			if p.err == nil {
				p.err = err
			}
			p.mu.Unlock()
		}
		body = nil
		entries = nil
	}

	for j := range p.jobs {
		entries = append(entries, Entry{
			Type:               p.kind,
			ID:                 j.id,
			Offset:             uint32(len(body)),
			Length:             uint32(len(j.ciphertext)),
			UncompressedLength: j.ulen,
		})
		body = append(body, j.ciphertext...)

		p.mu.Lock()
		target := p.sizing.effectiveTarget(p.totalSize)
		p.mu.Unlock()

		if uint64(len(body)) >= target {
			p.mu.Lock()
			p.totalSize += uint64(len(body))
			p.mu.Unlock()
			flush()
		}
	}
	flush()
	close(p.done)
}

// writePack encrypts the header, appends the trailer, writes the pack to
// the backend and reports it to the indexer.
func (p *Packer) writePack(body []byte, entries []Entry) error {
	var header []byte
	for _, e := range entries {
		header = EncodeEntry(header, e)
	}

	encHeader, err := p.key.Encrypt(nil, header)
	if err != nil {
		return errors.Wrap(err, "Encrypt header")
	}

	packBytes := make([]byte, 0, len(body)+len(encHeader)+HeaderLengthSuffix)
	packBytes = append(packBytes, body...)
	packBytes = append(packBytes, encHeader...)
	packBytes = appendUint32LE(packBytes, uint32(len(encHeader)))

	id := ids.Hash(packBytes)
	ctx := context.Background()
	cacheable := p.kind == data.TreeBlob
	if err := p.be.WriteBytes(ctx, backend.KindPack, id, cacheable, packBytes); err != nil {
		return errors.Wrap(err, "WriteBytes")
	}

	blobs := make([]data.IndexBlob, len(entries))
	for i, e := range entries {
		blobs[i] = data.IndexBlob{
			ID:                 e.ID,
			Type:               e.Type,
			Offset:             e.Offset,
			Length:             e.Length,
			UncompressedLength: e.UncompressedLength,
		}
	}

	if err := p.indexer.AddPack(ctx, data.IndexPack{
		ID:    id,
		Time:  time.Now(),
		Size:  uint32(len(packBytes)),
		Blobs: blobs,
	}); err != nil {
		return errors.Wrap(err, "AddPack")
	}

	p.mu.Lock()
	p.stats.PacksWritten++
	p.stats.BlobsWritten += len(entries)
	p.stats.BytesWritten += uint64(len(packBytes))
	p.mu.Unlock()

	debug.Log("packer: wrote pack %v with %d blobs, %d bytes", id, len(entries), len(packBytes))
	return nil
}

// Finalize flushes any remaining in-flight blobs into a last pack, stops
// the worker, and returns accumulated stats.
func (p *Packer) Finalize() (Stats, error) {
	close(p.jobs)
	p.wg.Wait()
	p.encoder.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats, p.err
}

func appendUint32LE(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
