package checker

import (
	"context"
	"sync"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
	"github.com/rustic-rs/rustic-sub001/internal/pack"
)

// zstdDecoderOnce lazily builds the single decoder ReadData's blob checks
// share; zstd.Decoder is safe for concurrent DecodeAll calls.
var (
	zstdDecoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
	zstdDecoderErr  error
)

func decodeZstd(compressed []byte) ([]byte, error) {
	zstdDecoderOnce.Do(func() {
		zstdDecoder, zstdDecoderErr = zstd.NewReader(nil)
	})
	if zstdDecoderErr != nil {
		return nil, zstdDecoderErr
	}
	return zstdDecoder.DecodeAll(compressed, nil)
}

// ReadData downloads every pack named in the index, verifies its content
// hash, re-parses its trailer and header, cross-checks the header against
// what the index claims, and (for each blob) decrypts the ciphertext slice
// and verifies the plaintext hashes to the blob id. It never mutates the
// repository and never stops at the first error.
func (c *Checker) ReadData(ctx context.Context) []error {
	if !c.opts.ReadData {
		return nil
	}

	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan []error, len(c.packs))

	g.SetLimit(readDataWorkers)
	for _, p := range c.packs {
		p := p
		g.Go(func() error {
			results <- c.checkPack(gctx, p)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	for r := range results {
		errs = append(errs, r...)
	}

	return errs
}

const readDataWorkers = 8

// checkPack fetches one pack in full, verifies it hashes to its own id,
// re-derives the header from the trailer, and verifies every blob the
// index claims lives in it actually decrypts and hashes correctly.
func (c *Checker) checkPack(ctx context.Context, p data.IndexPack) []error {
	raw, err := c.be.ReadFull(ctx, backend.KindPack, p.ID)
	if err != nil {
		return []error{&PackError{ID: p.ID, Err: errors.Wrap(err, "download")}}
	}

	if got := ids.Hash(raw); got != p.ID {
		return []error{&PackError{ID: p.ID, Err: errors.Errorf("pack content hashes to %v, not its own id", got)}}
	}

	if len(raw) < pack.HeaderLengthSuffix {
		return []error{&PackError{ID: p.ID, Err: errors.New("pack is shorter than the trailer")}}
	}

	trailer := raw[len(raw)-pack.HeaderLengthSuffix:]
	hdrLen := int(trailer[0]) | int(trailer[1])<<8 | int(trailer[2])<<16 | int(trailer[3])<<24
	body := raw[:len(raw)-pack.HeaderLengthSuffix]
	if hdrLen < 0 || hdrLen > len(body) {
		return []error{&PackError{ID: p.ID, Err: errors.Errorf("trailer claims header length %d, pack body is %d bytes", hdrLen, len(body))}}
	}

	encHeader := body[len(body)-hdrLen:]
	packBody := body[:len(body)-hdrLen]

	header := make([]byte, len(encHeader))
	n, err := c.key.Decrypt(header, encHeader)
	if err != nil {
		return []error{&PackError{ID: p.ID, Err: errors.Wrap(err, "decrypt header")}}
	}
	header = header[:n]

	entries, err := pack.DecodeHeader(header)
	if err != nil {
		return []error{&PackError{ID: p.ID, Err: errors.Wrap(err, "decode header")}}
	}

	byID := make(map[ids.ID]pack.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	var errs []error
	for _, b := range p.Blobs {
		e, ok := byID[b.ID]
		if !ok {
			errs = append(errs, errors.Errorf("pack %v: blob %v is in the index but not in the pack's own header", p.ID, b.ID))
			continue
		}
		if e.Offset != b.Offset || e.Length != b.Length || e.Type != b.Type {
			errs = append(errs, errors.Errorf("pack %v: blob %v header entry (offset %d, length %d, type %v) disagrees with index (offset %d, length %d, type %v)",
				p.ID, b.ID, e.Offset, e.Length, e.Type, b.Offset, b.Length, b.Type))
			continue
		}
		if int(e.Offset+e.Length) > len(packBody) {
			errs = append(errs, errors.Errorf("pack %v: blob %v extends past the pack body", p.ID, b.ID))
			continue
		}

		ciphertext := packBody[e.Offset : e.Offset+e.Length]
		plaintext := make([]byte, len(ciphertext))
		pn, err := c.key.Decrypt(plaintext, ciphertext)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "pack %v: decrypt blob %v", p.ID, b.ID))
			continue
		}
		plaintext = plaintext[:pn]

		if e.UncompressedLength != 0 {
			decoded, err := decodeZstd(plaintext)
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "pack %v: zstd decode blob %v", p.ID, b.ID))
				continue
			}
			if uint32(len(decoded)) != e.UncompressedLength {
				errs = append(errs, errors.Errorf("pack %v: blob %v decompressed to %d bytes, header says %d", p.ID, b.ID, len(decoded), e.UncompressedLength))
				continue
			}
			plaintext = decoded
		}

		if got := ids.Hash(plaintext); got != b.ID {
			errs = append(errs, errors.Errorf("pack %v: blob %v's plaintext hashes to %v", p.ID, b.ID, got))
		}
	}

	if len(entries) == 0 && len(p.Blobs) > 0 {
		errs = append(errs, &PackError{ID: p.ID, Err: errors.New("pack has no decodable header entries")})
	}

	return errs
}
